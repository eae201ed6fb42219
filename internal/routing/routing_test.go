package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup_ExactAndWildcard(t *testing.T) {
	// S3
	table := New()
	require.NoError(t, table.AddRoute(Route{SourceDomain: "api.openai.com", TargetURL: "U1"}))
	require.NoError(t, table.AddRoute(Route{SourceDomain: "*.openai.com", TargetURL: "U2"}))
	require.NoError(t, table.AddRoute(Route{SourceDomain: "*.foo.com", TargetURL: "U3"}))

	r, ok := table.Lookup("api.openai.com")
	require.True(t, ok)
	assert.Equal(t, "U1", r.TargetURL)

	r, ok = table.Lookup("chat.openai.com")
	require.True(t, ok)
	assert.Equal(t, "U2", r.TargetURL)

	_, ok = table.Lookup("openai.com")
	assert.False(t, ok)

	r, ok = table.Lookup("a.b.foo.com")
	require.True(t, ok)
	assert.Equal(t, "U3", r.TargetURL)

	_, ok = table.Lookup("bar.net")
	assert.False(t, ok)
}

func TestLookup_WildcardPriorityAndTieBreak(t *testing.T) {
	table := New()
	require.NoError(t, table.AddRoute(Route{SourceDomain: "*.a.example.com", TargetURL: "low", Priority: 1}))
	require.NoError(t, table.AddRoute(Route{SourceDomain: "*.example.com", TargetURL: "high", Priority: 5}))

	r, ok := table.Lookup("x.a.example.com")
	require.True(t, ok)
	assert.Equal(t, "high", r.TargetURL, "higher priority wins over longer suffix")
}

func TestAddRoute_RejectsEmptyDomain(t *testing.T) {
	table := New()
	err := table.AddRoute(Route{SourceDomain: "  "})
	assert.Error(t, err)
}

func TestRemoveAndClearRoutes(t *testing.T) {
	table := NewWithDefaults()
	assert.NotEmpty(t, table.GetRoutes())

	table.RemoveRoute("api.openai.com")
	_, ok := table.Lookup("api.openai.com")
	assert.False(t, ok)

	table.ClearRoutes()
	assert.Empty(t, table.GetRoutes())
}
