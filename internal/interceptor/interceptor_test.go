package interceptor

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsemmanuelingwani/sentra-lab/internal/certmint"
	"github.com/itsemmanuelingwani/sentra-lab/internal/event"
	"github.com/itsemmanuelingwani/sentra-lab/internal/routing"
)

type fakeRecorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (f *fakeRecorder) Record(ev event.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakeRecorder) kinds() []event.Kind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]event.Kind, len(f.events))
	for i, ev := range f.events {
		out[i] = ev.Kind
	}
	return out
}

func startProxy(t *testing.T, routes *routing.Table, rec *fakeRecorder) string {
	t.Helper()
	return startProxyWithMint(t, routes, rec, nil)
}

func startProxyWithMint(t *testing.T, routes *routing.Table, rec *fakeRecorder, mint *certmint.Mint) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	ic := New(Config{ListenAddr: addr}, routes, mint, rec, nil, "run-1")

	ctx, cancel := context.WithCancel(context.Background())
	go ic.ListenAndServe(ctx)
	t.Cleanup(cancel)

	// give the listener a moment to bind
	for i := 0; i < 50; i++ {
		if _, err := http.Get("http://" + addr); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	return addr
}

func TestInterceptor_RouteMiss(t *testing.T) {
	routes := routing.New()
	rec := &fakeRecorder{}
	addr := startProxy(t, routes, rec)

	req, err := http.NewRequest(http.MethodGet, "http://"+addr+"/v1/chat", nil)
	require.NoError(t, err)
	req.Host = "bar.net"

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, string(body), msgNoRoute)

	for _, k := range rec.kinds() {
		assert.NotEqual(t, event.KindExternalCallMade, k)
		assert.NotEqual(t, event.KindExternalCallComplete, k)
	}
}

func TestInterceptor_ForwardsOnRouteHit(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	routes := routing.New()
	require.NoError(t, routes.AddRoute(routing.Route{SourceDomain: "foo.net", TargetURL: upstream.URL}))

	rec := &fakeRecorder{}
	addr := startProxy(t, routes, rec)

	req, err := http.NewRequest(http.MethodGet, "http://"+addr+"/v1/chat", nil)
	require.NoError(t, err)
	req.Host = "foo.net"

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	kinds := rec.kinds()
	assert.Contains(t, kinds, event.KindExternalCallMade)
	assert.Contains(t, kinds, event.KindExternalCallComplete)
}

func TestInterceptor_ConnectRouteMissReturnsBadGateway(t *testing.T) {
	ca, err := certmint.GenerateCA()
	require.NoError(t, err)
	mint := certmint.NewMint(ca)

	routes := routing.New()
	rec := &fakeRecorder{}
	addr := startProxyWithMint(t, routes, rec, mint)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	fmt.Fprintf(conn, "CONNECT bar.net:443 HTTP/1.1\r\nHost: bar.net:443\r\n\r\n")
	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	_, err = mint.MintLeaf("bar.net")
	require.NoError(t, err, "mint stays usable after the rejected CONNECT above")
}

func TestInterceptor_ConnectTerminatesTLSOnRouteHit(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("tunneled"))
	}))
	defer upstream.Close()

	ca, err := certmint.GenerateCA()
	require.NoError(t, err)
	mint := certmint.NewMint(ca)

	routes := routing.New()
	require.NoError(t, routes.AddRoute(routing.Route{SourceDomain: "foo.net", TargetURL: upstream.URL}))

	rec := &fakeRecorder{}
	addr := startProxyWithMint(t, routes, rec, mint)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	fmt.Fprintf(conn, "CONNECT foo.net:443 HTTP/1.1\r\nHost: foo.net:443\r\n\r\n")
	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, "200")
	for line != "\r\n" {
		line, err = reader.ReadString('\n')
		require.NoError(t, err)
	}

	pool := x509.NewCertPool()
	pool.AddCert(ca.Cert)
	tlsConn := tls.Client(conn, &tls.Config{RootCAs: pool, ServerName: "foo.net"})
	require.NoError(t, tlsConn.Handshake())

	req, err := http.NewRequest(http.MethodGet, "https://foo.net/v1/chat", nil)
	require.NoError(t, err)
	require.NoError(t, req.Write(tlsConn))

	resp, err := http.ReadResponse(bufio.NewReader(tlsConn), req)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "tunneled", string(body))

	assert.Contains(t, rec.kinds(), event.KindExternalCallMade)
	assert.Contains(t, rec.kinds(), event.KindExternalCallComplete)
}
