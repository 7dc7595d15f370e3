package batch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pdf-batch/backend/internal/models"
	"github.com/pdf-batch/backend/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doneItem(id, file, resultPath string, pos int) models.WorkItem {
	return models.WorkItem{ID: id, BatchID: "b1", Position: pos, FileName: file, Status: models.ItemStatusDone, ResultPath: resultPath}
}

func newTestAggregator() (*Aggregator, *testutil.MockFetcher) {
	results := testutil.NewMockObjectStore("results", "http://files")
	fetcher := testutil.NewMockFetcher()
	return NewAggregator(results, fetcher, time.Second, zerolog.Nop()), fetcher
}

func TestTryBuildCombinedAllDone(t *testing.T) {
	agg, fetcher := newTestAggregator()
	fetcher.Set("http://files/results/b1/a.json", `{"nome":"Ana"}`)
	fetcher.Set("http://files/results/b1/b.json", ` [1, 2] `)
	fetcher.Set("http://files/results/b1/c.json", `"text"`)

	items := []models.WorkItem{
		doneItem("1", "a.pdf", "b1/a.json", 0),
		doneItem("2", "b.pdf", "b1/b.json", 1),
		doneItem("3", "c.pdf", "b1/c.json", 2),
	}
	got := agg.TryBuildCombined(context.Background(), items)
	require.NotNil(t, got)
	require.Len(t, got.Entries, 3)

	assert.Equal(t, "a.pdf", got.Entries[0].File)
	assert.JSONEq(t, `{"nome":"Ana"}`, string(got.Entries[0].Result))
	assert.Equal(t, "b.pdf", got.Entries[1].File)
	assert.Equal(t, `[1, 2]`, string(got.Entries[1].Result))
	assert.Equal(t, "c.pdf", got.Entries[2].File)
	assert.Equal(t, "b1", got.BatchID)
	assert.Equal(t, "batch-b1-combined.json", got.FileName())
	assert.Len(t, fetcher.Calls(), 3)

	again := agg.TryBuildCombined(context.Background(), items)
	assert.Equal(t, got, again, "rebuilding yields an equal result")
}

func TestTryBuildCombinedPreconditions(t *testing.T) {
	agg, fetcher := newTestAggregator()
	fetcher.Set("http://files/results/b1/a.json", `{}`)

	failed := doneItem("2", "b.pdf", "b1/b.json", 1)
	failed.Status = models.ItemStatusError
	running := doneItem("2", "b.pdf", "", 1)
	running.Status = models.ItemStatusRunning

	tests := []struct {
		name  string
		items []models.WorkItem
	}{
		{"empty", nil},
		{"one failed", []models.WorkItem{doneItem("1", "a.pdf", "b1/a.json", 0), failed}},
		{"one pending", []models.WorkItem{doneItem("1", "a.pdf", "b1/a.json", 0), running}},
		{"done without result", []models.WorkItem{doneItem("1", "a.pdf", "b1/a.json", 0), doneItem("2", "b.pdf", "", 1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Nil(t, agg.TryBuildCombined(context.Background(), tt.items))
		})
	}
	assert.Empty(t, fetcher.Calls(), "nothing is fetched unless every item succeeded")
}

func TestTryBuildCombinedSkipsBadResults(t *testing.T) {
	agg, fetcher := newTestAggregator()
	fetcher.Set("http://files/results/b1/ok.json", `{"ok":true}`)
	fetcher.Set("http://files/results/b1/bad.json", `{"broken":`)
	fetcher.Set("http://files/results/b1/null.json", `null`)
	fetcher.SetError("http://files/results/b1/err.json", errors.New("status 404"))

	items := []models.WorkItem{
		doneItem("1", "bad.pdf", "b1/bad.json", 0),
		doneItem("2", "ok.pdf", "b1/ok.json", 1),
		doneItem("3", "null.pdf", "b1/null.json", 2),
		doneItem("4", "err.pdf", "b1/err.json", 3),
		doneItem("5", "missing.pdf", "b1/missing.json", 4),
	}
	got := agg.TryBuildCombined(context.Background(), items)
	require.NotNil(t, got)
	require.Len(t, got.Entries, 1)
	assert.Equal(t, "ok.pdf", got.Entries[0].File)
}

type noURL struct{}

func (noURL) PublicURL(string) (string, bool) { return "", false }

func TestTryBuildCombinedUnresolvable(t *testing.T) {
	fetcher := testutil.NewMockFetcher()
	agg := NewAggregator(noURL{}, fetcher, 0, zerolog.Nop())

	got := agg.TryBuildCombined(context.Background(), []models.WorkItem{doneItem("1", "a.pdf", "b1/a.json", 0)})
	require.NotNil(t, got)
	assert.Empty(t, got.Entries)
	assert.Empty(t, fetcher.Calls())

	data, err := got.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(data))
}
