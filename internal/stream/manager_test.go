package stream

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coopcam/coopcam/internal/config"
)

func testManagerConfig() *config.Config {
	return &config.Config{
		Sources: []config.SourceConfig{
			{ID: "coop", Name: "Coop Interior", URL: "http://127.0.0.1:1/video", IsDefault: true},
			{ID: "run", Name: "Chicken Run", URL: "http://127.0.0.1:2/video"},
		},
	}
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(context.Background(), testManagerConfig(), ProxySettings{PreBufferCapacity: 4}, NewPool(1024, 4), nil)
	t.Cleanup(m.Shutdown)
	return m
}

func TestManagerDefaultAliasResolvesToSameProxy(t *testing.T) {
	m := newTestManager(t)

	byAlias, err := m.GetProxy("default")
	require.NoError(t, err)
	byID, err := m.GetProxy("coop")
	require.NoError(t, err)

	assert.Same(t, byID, byAlias)
	assert.Equal(t, "coop", byAlias.Source().ID)
}

func TestManagerUnknownSource(t *testing.T) {
	m := newTestManager(t)

	_, err := m.GetProxy("barn")
	assert.ErrorIs(t, err, ErrUnknownSource)
}

func TestManagerListSources(t *testing.T) {
	m := newTestManager(t)

	got := m.ListSources()
	require.Len(t, got, 2)

	assert.Equal(t, "coop", got[0].ID)
	assert.Equal(t, "Coop Interior", got[0].Name)
	assert.Equal(t, "http://127.0.0.1:1", got[0].DisplayURL)
	assert.True(t, got[0].IsDefault)

	assert.Equal(t, "run", got[1].ID)
	assert.False(t, got[1].IsDefault)
}

func TestManagerProxiesSortedAndUnique(t *testing.T) {
	m := newTestManager(t)

	ps := m.Proxies()
	require.Len(t, ps, 2)
	assert.Equal(t, "coop", ps[0].Source().ID)
	assert.Equal(t, "run", ps[1].Source().ID)

	// Repeated lookups never construct a second proxy for the same source.
	again, err := m.GetProxy("coop")
	require.NoError(t, err)
	assert.Same(t, ps[0], again)
}

func TestManagerSourceIDs(t *testing.T) {
	m := newTestManager(t)
	assert.Equal(t, []string{"coop", "run"}, m.SourceIDs())
}
