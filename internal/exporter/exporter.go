// Package exporter transforms a linear sequence of Events into one of
// three external document formats.
package exporter

import (
	"encoding/json"
	"encoding/xml"
	"time"

	"github.com/itsemmanuelingwani/sentra-lab/internal/event"
	"github.com/itsemmanuelingwani/sentra-lab/internal/simerrors"
)

// Format is the closed set of export document kinds.
type Format string

const (
	FormatJSON    Format = "json"
	FormatHAR     Format = "har"
	FormatJUnitXML Format = "junit-xml"
)

// Export renders events as the requested document format.
func Export(events []event.Event, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return exportJSON(events)
	case FormatHAR:
		return exportHAR(events)
	case FormatJUnitXML:
		return exportJUnit(events)
	default:
		return nil, simerrors.ExportFailed("unknown export format: "+string(format), nil)
	}
}

func exportJSON(events []event.Event) ([]byte, error) {
	out, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return nil, simerrors.ExportFailed("failed to marshal JSON export", err)
	}
	return out, nil
}

// --- HTTP Archive (HAR) ---

type harDocument struct {
	Log harLog `json:"log"`
}

type harLog struct {
	Version string     `json:"version"`
	Creator harCreator `json:"creator"`
	Entries []harEntry `json:"entries"`
}

type harCreator struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type harEntry struct {
	StartedDateTime string      `json:"startedDateTime"`
	Time            float64     `json:"time"`
	Request         harRequest  `json:"request"`
	Response        harResponse `json:"response"`
}

type harRequest struct {
	Method  string     `json:"method"`
	URL     string     `json:"url"`
	Headers []harField `json:"headers"`
	Content harContent `json:"postData,omitempty"`
}

type harResponse struct {
	Status  int        `json:"status"`
	Headers []harField `json:"headers"`
	Content harContent `json:"content"`
}

type harField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type harContent struct {
	Text string `json:"text,omitempty"`
}

// exportHAR builds a standards-named HTTP Archive document from the
// external-call-made / external-call-completed pairs in events, matching
// each pair by run id and URL. Events of other kinds are excluded.
func exportHAR(events []event.Event) ([]byte, error) {
	type pairKey struct{ runID, url string }
	made := make(map[pairKey]event.Event)
	entries := make([]harEntry, 0, len(events)/2)

	for _, ev := range events {
		switch ev.Kind {
		case event.KindExternalCallMade:
			url, _ := ev.Data[event.DataKeyURL].(string)
			made[pairKey{ev.RunID, url}] = ev
		case event.KindExternalCallComplete:
			url, _ := ev.Data[event.DataKeyURL].(string)
			reqEv, ok := made[pairKey{ev.RunID, url}]
			if !ok {
				reqEv = ev
			}
			entries = append(entries, buildHAREntry(reqEv, ev))
		}
	}

	doc := harDocument{Log: harLog{
		Version: "1.2",
		Creator: harCreator{Name: "simhost-exporter", Version: "1.0"},
		Entries: entries,
	}}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, simerrors.ExportFailed("failed to marshal HAR export", err)
	}
	return out, nil
}

func buildHAREntry(made, completed event.Event) harEntry {
	method, _ := made.Data[event.DataKeyMethod].(string)
	url, _ := made.Data[event.DataKeyURL].(string)
	status, _ := completed.Data[event.DataKeyStatus].(int)

	var elapsedMs float64
	if completed.DurationUs != nil {
		elapsedMs = float64(*completed.DurationUs) / 1000.0
	}

	return harEntry{
		StartedDateTime: time.Unix(0, made.WallTimeNs).UTC().Format(time.RFC3339),
		Time:            elapsedMs,
		Request: harRequest{
			Method:  method,
			URL:     url,
			Headers: fieldsFromHeaders(made.Data[event.DataKeyRequestHeaders]),
			Content: harContent{Text: stringData(made.Data[event.DataKeyRequestBodySnippet])},
		},
		Response: harResponse{
			Status:  status,
			Headers: fieldsFromHeaders(completed.Data[event.DataKeyResponseHeaders]),
			Content: harContent{Text: stringData(completed.Data[event.DataKeyResponseBodySnippet])},
		},
	}
}

func fieldsFromHeaders(v interface{}) []harField {
	headers, ok := v.(map[string][]string)
	if !ok {
		return nil
	}
	out := make([]harField, 0, len(headers))
	for name, values := range headers {
		for _, value := range values {
			out = append(out, harField{Name: name, Value: value})
		}
	}
	return out
}

func stringData(v interface{}) string {
	s, _ := v.(string)
	return s
}

// --- JUnit-style test report XML ---

type junitTestSuite struct {
	XMLName  xml.Name        `xml:"testsuite"`
	Tests    int             `xml:"tests,attr"`
	Failures int             `xml:"failures,attr"`
	Cases    []junitTestCase `xml:"testcase"`
}

type junitTestCase struct {
	Name    string        `xml:"name,attr"`
	Failure *junitFailure `xml:"failure,omitempty"`
}

type junitFailure struct {
	Message string `xml:"message,attr"`
	Content string `xml:",chardata"`
}

// exportJUnit builds one test-suite with one test-case per event; events
// of kind error-encountered carry a failure child with the event's
// serialized data.
func exportJUnit(events []event.Event) ([]byte, error) {
	suite := junitTestSuite{
		Tests: len(events),
		Cases: make([]junitTestCase, len(events)),
	}

	for i, ev := range events {
		tc := junitTestCase{Name: ev.ID + ":" + string(ev.Kind)}
		if ev.Kind == event.KindErrorEncountered {
			data, err := json.Marshal(ev.Data)
			if err != nil {
				return nil, simerrors.ExportFailed("failed to serialize event data for failure case", err)
			}
			tc.Failure = &junitFailure{Message: "error-encountered", Content: string(data)}
			suite.Failures++
		}
		suite.Cases[i] = tc
	}

	out, err := xml.MarshalIndent(suite, "", "  ")
	if err != nil {
		return nil, simerrors.ExportFailed("failed to marshal JUnit XML export", err)
	}
	return append([]byte(xml.Header), out...), nil
}
