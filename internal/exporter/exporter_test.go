package exporter

import (
	"encoding/json"
	"encoding/xml"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsemmanuelingwani/sentra-lab/internal/event"
)

func sampleEvents() []event.Event {
	made := event.New("e1", "run-1", event.KindExternalCallMade, map[string]any{
		event.DataKeyMethod: "GET",
		event.DataKeyURL:    "http://localhost:8080/v1/chat",
	})
	completed := event.New("e2", "run-1", event.KindExternalCallComplete, map[string]any{
		event.DataKeyMethod: "GET",
		event.DataKeyURL:    "http://localhost:8080/v1/chat",
		event.DataKeyStatus: 200,
	})
	errEv := event.New("e3", "run-1", event.KindErrorEncountered, map[string]any{"cause": "boom"})
	return []event.Event{made, completed, errEv}
}

func TestExport_JSON(t *testing.T) {
	out, err := Export(sampleEvents(), FormatJSON)
	require.NoError(t, err)

	var decoded []event.Event
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Len(t, decoded, 3)
}

func TestExport_HAR(t *testing.T) {
	out, err := Export(sampleEvents(), FormatHAR)
	require.NoError(t, err)

	var doc harDocument
	require.NoError(t, json.Unmarshal(out, &doc))
	assert.Equal(t, "1.2", doc.Log.Version)
	assert.NotEmpty(t, doc.Log.Creator.Name)
	require.Len(t, doc.Log.Entries, 1)
	assert.Equal(t, "GET", doc.Log.Entries[0].Request.Method)
	assert.Equal(t, 200, doc.Log.Entries[0].Response.Status)
}

func TestExport_JUnitXML(t *testing.T) {
	out, err := Export(sampleEvents(), FormatJUnitXML)
	require.NoError(t, err)

	var suite junitTestSuite
	require.NoError(t, xml.Unmarshal(out, &suite))
	assert.Equal(t, 3, suite.Tests)
	assert.Equal(t, 1, suite.Failures)

	failing := 0
	for _, c := range suite.Cases {
		if c.Failure != nil {
			failing++
		}
	}
	assert.Equal(t, suite.Failures, failing)
}

func TestExport_UnknownFormat(t *testing.T) {
	_, err := Export(sampleEvents(), Format("bogus"))
	assert.Error(t, err)
}
