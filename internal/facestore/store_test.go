package facestore

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/facegate/internal/embedding"
)

func newTestStore() (*Store, *MemoryKV) {
	kv := NewMemoryKV()
	return New(kv, zap.NewNop()), kv
}

func TestPutLookupRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, kv := newTestStore()

	vec := embedding.Vector{0.1, 0.2, 0.3}
	require.NoError(t, store.Put(ctx, Record{
		StudentID: "STU001",
		Embedding: vec,
		ImageRef:  "file:///captures/stu001.jpg",
	}))

	rec, err := store.Lookup(ctx, "STU001")
	require.NoError(t, err)
	assert.Equal(t, vec, rec.Embedding)
	assert.Equal(t, "file:///captures/stu001.jpg", rec.ImageRef)
	assert.False(t, rec.CapturedAt.IsZero())

	// Durable copy uses the namespaced key and the JSON wire shape.
	raw, err := kv.Get(ctx, "face_STU001")
	require.NoError(t, err)
	var persisted struct {
		StudentID string    `json:"studentId"`
		Embedding []float32 `json:"embedding"`
		Timestamp time.Time `json:"timestamp"`
		ImageURI  string    `json:"imageUri"`
	}
	require.NoError(t, json.Unmarshal([]byte(raw), &persisted))
	assert.Equal(t, "STU001", persisted.StudentID)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, persisted.Embedding)
	assert.Equal(t, "file:///captures/stu001.jpg", persisted.ImageURI)
}

func TestLookupMissing(t *testing.T) {
	store, _ := newTestStore()

	_, err := store.Lookup(context.Background(), "unknown")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	store, kv := newTestStore()

	require.NoError(t, store.Put(ctx, Record{StudentID: "STU002", Embedding: embedding.Vector{1}}))
	require.NoError(t, store.Remove(ctx, "STU002"))

	_, err := store.Lookup(ctx, "STU002")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = kv.Get(ctx, "face_STU002")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestPutOverwritesLastWriteWins(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore()

	require.NoError(t, store.Put(ctx, Record{StudentID: "STU003", Embedding: embedding.Vector{1, 0}}))
	require.NoError(t, store.Put(ctx, Record{StudentID: "STU003", Embedding: embedding.Vector{0, 1}}))

	rec, err := store.Lookup(ctx, "STU003")
	require.NoError(t, err)
	assert.Equal(t, embedding.Vector{0, 1}, rec.Embedding)
	assert.Len(t, store.Students(), 1)
}

func TestPutFailureCommitsNeither(t *testing.T) {
	ctx := context.Background()
	kv := &failingKV{err: errors.New("backend down")}
	store := New(kv, zap.NewNop())

	err := store.Put(ctx, Record{StudentID: "STU004", Embedding: embedding.Vector{1}})
	require.Error(t, err)

	_, err = store.Lookup(ctx, "STU004")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadAllRehydrates(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()

	first := New(kv, zap.NewNop())
	require.NoError(t, first.Put(ctx, Record{StudentID: "STU005", Embedding: embedding.Vector{0.5, 0.5}}))
	require.NoError(t, first.Put(ctx, Record{StudentID: "STU006", Embedding: embedding.Vector{1, 0}}))

	// Unrelated keys in the same backend must not leak in.
	require.NoError(t, kv.Set(ctx, "verification:xyz", "cached"))
	// Corrupt records are skipped, not fatal.
	require.NoError(t, kv.Set(ctx, "face_corrupt", "{not json"))

	second := New(kv, zap.NewNop())
	require.NoError(t, second.LoadAll(ctx))

	assert.Equal(t, []string{"STU005", "STU006"}, second.Students())
	rec, err := second.Lookup(ctx, "STU005")
	require.NoError(t, err)
	assert.Equal(t, embedding.Vector{0.5, 0.5}, rec.Embedding)
}

func TestStudentsSorted(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore()

	for _, id := range []string{"STU900", "STU100", "STU500"} {
		require.NoError(t, store.Put(ctx, Record{StudentID: id, Embedding: embedding.Vector{1}}))
	}
	assert.Equal(t, []string{"STU100", "STU500", "STU900"}, store.Students())
	assert.Equal(t, 3, store.Count())
}

type failingKV struct {
	err error
}

func (f *failingKV) Set(ctx context.Context, key, value string) error { return f.err }
func (f *failingKV) Get(ctx context.Context, key string) (string, error) {
	return "", f.err
}
func (f *failingKV) Del(ctx context.Context, key string) error { return f.err }
func (f *failingKV) Keys(ctx context.Context, prefix string) ([]string, error) {
	return nil, f.err
}
