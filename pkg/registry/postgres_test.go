package registry

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testdb "github.com/report-compose/composer/test/database"
)

func TestPostgresRunStoreRoundTrip(t *testing.T) {
	store := NewPostgresRunStore(testdb.NewTestClient(t))
	ctx := context.Background()

	rec := SavedRun{
		RunID:         uuid.NewString(),
		PromptSet:     "credit_report",
		Focus:         "Acme Corp",
		Online:        true,
		Mock:          false,
		PromptSetYAML: []byte("prompts:\n  A:\n    id: 1\n    text: x\n"),
		Snapshot:      []byte(`{"1":{"status":"complete","result":{"llm_text":"x"}}}`),
		Report:        "# Aggregated Report",
		SavedAt:       time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, store.Put(ctx, rec))

	got, err := store.Get(ctx, rec.RunID)
	require.NoError(t, err)
	assert.Equal(t, rec.PromptSet, got.PromptSet)
	assert.Equal(t, rec.Focus, got.Focus)
	assert.True(t, got.Online)
	assert.Equal(t, rec.PromptSetYAML, got.PromptSetYAML)
	assert.JSONEq(t, string(rec.Snapshot), string(got.Snapshot))
	assert.Equal(t, rec.Report, got.Report)
	assert.WithinDuration(t, rec.SavedAt, got.SavedAt, time.Millisecond)
}

func TestPostgresRunStoreUpsert(t *testing.T) {
	store := NewPostgresRunStore(testdb.NewTestClient(t))
	ctx := context.Background()

	rec := SavedRun{
		RunID:         uuid.NewString(),
		PromptSet:     "credit_report",
		Focus:         "Acme Corp",
		PromptSetYAML: []byte("prompts: {}"),
		Snapshot:      []byte(`{"1":{"status":"pending","result":null}}`),
		SavedAt:       time.Now().UTC(),
	}
	require.NoError(t, store.Put(ctx, rec))

	// A pre-completion save has no report; re-saving fills it in.
	got, err := store.Get(ctx, rec.RunID)
	require.NoError(t, err)
	assert.Empty(t, got.Report)

	rec.Snapshot = []byte(`{"1":{"status":"complete","result":{"llm_text":"done"}}}`)
	rec.Report = "# Aggregated Report"
	rec.SavedAt = time.Now().UTC()
	require.NoError(t, store.Put(ctx, rec))

	got, err = store.Get(ctx, rec.RunID)
	require.NoError(t, err)
	assert.Equal(t, "# Aggregated Report", got.Report)
	assert.JSONEq(t, string(rec.Snapshot), string(got.Snapshot))
}

func TestPostgresRunStoreNotFound(t *testing.T) {
	store := NewPostgresRunStore(testdb.NewTestClient(t))
	_, err := store.Get(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestPostgresRunStoreListNewestFirst(t *testing.T) {
	store := NewPostgresRunStore(testdb.NewTestClient(t))
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	ids := []string{uuid.NewString(), uuid.NewString(), uuid.NewString()}
	for i, id := range ids {
		require.NoError(t, store.Put(ctx, SavedRun{
			RunID:         id,
			PromptSet:     "credit_report",
			Focus:         "Acme Corp",
			PromptSetYAML: []byte("prompts: {}"),
			Snapshot:      []byte(`{}`),
			SavedAt:       base.Add(time.Duration(i) * time.Minute),
		}))
	}

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, ids[2], list[0].RunID)
	assert.Equal(t, ids[1], list[1].RunID)
	assert.Equal(t, ids[0], list[2].RunID)
}

func TestRegistrySaveLoadOverPostgres(t *testing.T) {
	store := NewPostgresRunStore(testdb.NewTestClient(t))
	r := newTestRegistry(t, store)
	id := runToCompletion(t, r)
	require.NoError(t, r.Save(context.Background(), id))

	original, _ := r.Get(id)

	r2 := newTestRegistry(t, store)
	loaded, err := r2.Load(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, loaded.ReadOnly())
	assert.Equal(t, original.Results().Snapshot(), loaded.Results().Snapshot())
}
