package session

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manash/seedgraph/internal/graph"
	"github.com/manash/seedgraph/internal/provider"
	"github.com/manash/seedgraph/internal/provider/dream"
	"github.com/manash/seedgraph/pkg/models"
)

type historyBackend struct {
	fakeBackend
	records []models.GenerationRecord
	err     error
}

func (h *historyBackend) History(ctx context.Context) ([]models.GenerationRecord, error) {
	return h.records, h.err
}

func TestLoadHistory_MirrorsServer(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()
	backend := &historyBackend{records: []models.GenerationRecord{
		record("outputs/a.png", 42, ""),
		record("outputs/b.png", 99, "42:0.3"),
	}}

	records, src, err := LoadHistory(context.Background(), backend, store, nil)
	require.NoError(t, err)
	assert.Equal(t, FromServer, src)
	assert.Len(t, records, 2)

	n, err := store.CountRecords(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestLoadHistory_FallsBackToMirror(t *testing.T) {
	ctx := context.Background()
	store, cleanup := testStore(t)
	defer cleanup()
	_, err := store.SyncRecords(ctx, []models.GenerationRecord{record("outputs/a.png", 42, "")})
	require.NoError(t, err)

	backend := &historyBackend{err: errors.New("connection refused")}
	records, src, err := LoadHistory(ctx, backend, store, nil)
	require.NoError(t, err)
	assert.Equal(t, FromMirror, src)
	assert.Equal(t, "local mirror", src.String())
	require.Len(t, records, 1)
	assert.Equal(t, "outputs/a.png", records[0].URL)
}

func TestLoadHistory_NoStore(t *testing.T) {
	boom := errors.New("connection refused")
	_, _, err := LoadHistory(context.Background(), &historyBackend{err: boom}, nil, nil)
	assert.ErrorIs(t, err, boom)
}

// flatRunLog is shaped like the dream server's run_log.json: each entry is
// the submitted config flattened next to the artifact url.
const flatRunLog = `{"run_log":[
	{"url":"outputs/000001.42.png","seed":42,"prompt":"cat","steps":50,"cfg_scale":7.5,"sampler_name":"k_lms","width":512,"height":512,"with_variations":"","variation_amount":0},
	{"url":"outputs/000002.99.png","seed":99,"prompt":"cat","steps":50,"cfg_scale":7.5,"sampler_name":"k_lms","width":512,"height":512,"with_variations":"42:0.3","variation_amount":0},
	{"url":"outputs/000003.5.png","seed":5,"prompt":"cat","steps":50,"cfg_scale":7.5,"sampler_name":"k_lms","width":512,"height":512,"with_variations":"42:0.3,99:0.1","variation_amount":0}
]}`

func TestLoadHistory_ReplaysServerRunLogIntoGraph(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, flatRunLog)
	}))
	defer server.Close()

	backend, err := dream.New(&provider.Config{BaseURL: server.URL})
	require.NoError(t, err)
	store, cleanup := testStore(t)
	defer cleanup()

	records, src, err := LoadHistory(context.Background(), backend, store, nil)
	require.NoError(t, err)
	assert.Equal(t, FromServer, src)
	require.Len(t, records, 3)
	assert.Equal(t, "cat", records[1].Prompt)
	assert.Equal(t, "k_lms", records[1].SamplerName)
	assert.Equal(t, "42:0.3", records[1].WithVariations)

	g := graph.New()
	edges := g.Load(records)
	assert.Equal(t, []graph.Edge{
		{Source: "outputs/000001.42.png", Target: "outputs/000002.99.png", Weight: 0.3},
		{Source: "outputs/000002.99.png", Target: "outputs/000003.5.png", Weight: 0.1},
	}, edges)

	mirrored, err := store.ListRecords(context.Background())
	require.NoError(t, err)
	offline := graph.New()
	assert.Equal(t, edges, offline.Load(mirrored))
}
