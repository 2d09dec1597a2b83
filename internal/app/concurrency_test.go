package app

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"legalrag/internal/ai"
	"legalrag/internal/docstore"
	"legalrag/internal/model"
)

// gate parks the first call made after arm until release is closed or the
// call's context ends.
type gate struct {
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func newGate() *gate {
	return &gate{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gate) arm() { g.armed.Store(true) }

func (g *gate) wait(ctx context.Context) error {
	if g == nil || !g.armed.CompareAndSwap(true, false) {
		return nil
	}
	close(g.entered)
	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *gate) awaitEntered(t *testing.T) {
	t.Helper()
	select {
	case <-g.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("gated call never started")
	}
}

type gatedEmbedder struct {
	ai.Embedder
	embed *gate
}

func (e *gatedEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.embed.wait(ctx); err != nil {
		return nil, err
	}
	return e.Embedder.EmbedDocuments(ctx, texts)
}

type gatedStore struct {
	docstore.Store
	locate *gate
	read   *gate
}

func (s *gatedStore) Locate(ctx context.Context, filename string, folders ...string) (model.Document, error) {
	doc, err := s.Store.Locate(ctx, filename, folders...)
	if err != nil {
		return doc, err
	}
	return doc, s.locate.wait(ctx)
}

func (s *gatedStore) Read(ctx context.Context, doc model.Document) ([]byte, error) {
	if err := s.read.wait(ctx); err != nil {
		return nil, err
	}
	return s.Store.Read(ctx, doc)
}

func withEmbedGate(g *gate) func(*AdminDeps) {
	return func(d *AdminDeps) { d.Embedder = &gatedEmbedder{Embedder: d.Embedder, embed: g} }
}

func withStoreGates(locate, read *gate) func(*AdminDeps) {
	return func(d *AdminDeps) { d.Store = &gatedStore{Store: d.Store, locate: locate, read: read} }
}

func uploadWords(t *testing.T, env *testEnv, filename string, words int) {
	t.Helper()
	_, err := env.svc.Upload(context.Background(), UploadInput{
		Filename:     filename,
		DocumentType: "ipc",
		Data:         []byte(wordDocument(words)),
	})
	require.NoError(t, err)
}

func assertIndexEmpty(t *testing.T, env *testEnv) {
	t.Helper()
	ctx := context.Background()
	n, err := env.index.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	sources, err := env.index.Sources(ctx)
	require.NoError(t, err)
	assert.Empty(t, sources)
}

func TestDeleteDuringReprocessLeavesNoChunks(t *testing.T) {
	embed := newGate()
	env := newTestEnv(t, withEmbedGate(embed))
	ctx := context.Background()
	uploadWords(t, env, "a.txt", 600)

	embed.arm()
	reprocessErr := make(chan error, 1)
	go func() {
		_, err := env.svc.Reprocess(ctx, ReprocessInput{Filename: "a.txt", ChunkSize: intPtr(500), ChunkOverlap: intPtr(50)})
		reprocessErr <- err
	}()
	embed.awaitEntered(t)

	deleteErr := make(chan error, 1)
	go func() {
		_, err := env.svc.DeleteDocument(ctx, "a.txt", nil)
		deleteErr <- err
	}()
	close(embed.release)

	require.NoError(t, <-reprocessErr)
	require.NoError(t, <-deleteErr)

	list, err := env.svc.ListDocuments(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, list.Documents)
	assertIndexEmpty(t, env)
}

func TestReprocessOfDocumentDeletedMeanwhileIsNotFound(t *testing.T) {
	locate := newGate()
	env := newTestEnv(t, withStoreGates(locate, nil))
	ctx := context.Background()
	uploadWords(t, env, "a.txt", 600)

	locate.arm()
	reprocessErr := make(chan error, 1)
	go func() {
		_, err := env.svc.Reprocess(ctx, ReprocessInput{Filename: "a.txt"})
		reprocessErr <- err
	}()
	locate.awaitEntered(t)

	_, err := env.svc.DeleteDocument(ctx, "a.txt", nil)
	require.NoError(t, err)
	close(locate.release)

	err = <-reprocessErr
	assert.ErrorIs(t, err, ErrFileNotFound)
	assertIndexEmpty(t, env)
}

func TestEmbeddingChangeRejectedWhileRebuildRuns(t *testing.T) {
	read := newGate()
	env := newTestEnv(t, withStoreGates(nil, read))
	ctx := context.Background()
	uploadWords(t, env, "a.txt", 600)
	other := model.EmbeddingConfig{Provider: "hash", ModelName: "other-model", Device: "cpu", Normalize: true, Dimension: 64}

	read.arm()
	started, err := env.svc.Rebuild(ctx, RebuildInput{Confirm: true})
	require.NoError(t, err)
	read.awaitEntered(t)

	_, err = env.svc.SetEmbedding(ctx, other)
	assert.ErrorIs(t, err, ErrOperationInProgress)
	assert.Equal(t, "test-model", env.svc.GetEmbedding().ModelName)

	close(read.release)
	env.svc.Wait()
	job, err := env.svc.RebuildStatus(ctx, started.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, job.Status)
	assert.False(t, env.svc.RebuildRequired())

	// same dimension, different model: still needs a rebuild
	update, err := env.svc.SetEmbedding(ctx, other)
	require.NoError(t, err)
	assert.NotEmpty(t, update.Warning)
	assert.True(t, env.svc.RebuildRequired())
	_, err = env.svc.Search(ctx, SearchInput{Query: "w00000001", K: 3})
	assert.ErrorIs(t, err, ErrRebuildRequired)
}

func TestUploadEmbeddedWithReplacedModelIsRejected(t *testing.T) {
	embed := newGate()
	env := newTestEnv(t, withEmbedGate(embed))
	ctx := context.Background()

	embed.arm()
	uploadErr := make(chan error, 1)
	go func() {
		_, err := env.svc.Upload(ctx, UploadInput{Filename: "a.txt", DocumentType: "ipc", Data: []byte(wordDocument(300))})
		uploadErr <- err
	}()
	embed.awaitEntered(t)

	update, err := env.svc.SetEmbedding(ctx, model.EmbeddingConfig{Provider: "hash", ModelName: "other-model", Device: "cpu", Normalize: true, Dimension: 64})
	require.NoError(t, err)
	assert.Empty(t, update.Warning, "the index is empty")
	close(embed.release)

	err = <-uploadErr
	assert.ErrorIs(t, err, ErrOperationInProgress)
	ok, err := env.store.Exists(ctx, "", "a.txt")
	require.NoError(t, err)
	assert.False(t, ok)
	assertIndexEmpty(t, env)

	uploadWords(t, env, "a.txt", 300)
	firstChunk := wordDocument(100)
	res, err := env.svc.Search(ctx, SearchInput{Query: firstChunk, K: 1})
	require.NoError(t, err)
	require.NotEmpty(t, res.Results)
	assert.InDelta(t, 1.0, res.Results[0].SimilarityScore, 1e-4)
}

func TestEmptiedIndexAcceptsNewDimension(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	uploadWords(t, env, "a.txt", 300)
	_, err := env.svc.DeleteDocument(ctx, "a.txt", nil)
	require.NoError(t, err)

	update, err := env.svc.SetEmbedding(ctx, model.EmbeddingConfig{Provider: "hash", ModelName: "bigger-model", Device: "cpu", Normalize: true, Dimension: 128})
	require.NoError(t, err)
	assert.Empty(t, update.Warning)
	assert.False(t, env.svc.RebuildRequired())

	uploadWords(t, env, "b.txt", 300)
	assert.Equal(t, 128, env.index.Dimension())
}

func TestCloseCancelsRunningRebuild(t *testing.T) {
	read := newGate()
	env := newTestEnv(t, withStoreGates(nil, read))
	ctx := context.Background()
	uploadWords(t, env, "a.txt", 300)

	read.arm()
	started, err := env.svc.Rebuild(ctx, RebuildInput{Confirm: true})
	require.NoError(t, err)
	read.awaitEntered(t)

	closed := make(chan struct{})
	go func() {
		env.svc.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not stop the rebuild")
	}

	job, err := env.svc.RebuildStatus(ctx, started.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, job.Status)
	assert.Contains(t, job.Error, "shutdown")
}
