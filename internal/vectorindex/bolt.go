package vectorindex

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

var (
	bucketChunks = []byte("chunks")
	bucketMeta   = []byte("meta")
	keyDimension = []byte("dimension")
)

type storedChunk struct {
	Vector   []float32 `json:"v"`
	Text     string    `json:"t"`
	Metadata Metadata  `json:"m"`
}

// BoltIndex persists chunks in a bbolt file and mirrors them in memory for
// brute-force cosine search. Every mutation is a single bbolt transaction and
// the mirror is only updated after the commit succeeds.
type BoltIndex struct {
	db   *bbolt.DB
	path string

	mu       sync.RWMutex
	entries  map[string]Entry
	bySource map[string]map[string]struct{}
	dim      int
}

func OpenBolt(path string) (*BoltIndex, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create index dir failed: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt index failed: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketChunks, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create index buckets failed: %w", err)
	}

	idx := &BoltIndex{
		db:       db,
		path:     path,
		entries:  make(map[string]Entry),
		bySource: make(map[string]map[string]struct{}),
	}
	if err := idx.load(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load index failed: %w", err)
	}
	return idx, nil
}

func (b *BoltIndex) load() error {
	return b.db.View(func(tx *bbolt.Tx) error {
		if raw := tx.Bucket(bucketMeta).Get(keyDimension); len(raw) == 8 {
			b.dim = int(binary.BigEndian.Uint64(raw))
		}
		return tx.Bucket(bucketChunks).ForEach(func(k, v []byte) error {
			var sc storedChunk
			if err := json.Unmarshal(v, &sc); err != nil {
				return fmt.Errorf("decode chunk %s: %w", k, err)
			}
			b.remember(Entry{ID: string(k), Vector: sc.Vector, Text: sc.Text, Metadata: sc.Metadata})
			return nil
		})
	})
}

func (b *BoltIndex) remember(e Entry) {
	b.entries[e.ID] = e
	ids, ok := b.bySource[e.Metadata.Source]
	if !ok {
		ids = make(map[string]struct{})
		b.bySource[e.Metadata.Source] = ids
	}
	ids[e.ID] = struct{}{}
}

func (b *BoltIndex) forget(id string) {
	e, ok := b.entries[id]
	if !ok {
		return
	}
	delete(b.entries, id)
	if ids := b.bySource[e.Metadata.Source]; ids != nil {
		delete(ids, id)
		if len(ids) == 0 {
			delete(b.bySource, e.Metadata.Source)
		}
	}
}

func (b *BoltIndex) Replace(ctx context.Context, source string, entries []Entry) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	dim, err := checkDimensions(b.dim, entries)
	if err != nil {
		return 0, fmt.Errorf("%w: index has %d", err, dim)
	}
	old := make([]string, 0, len(b.bySource[source]))
	for id := range b.bySource[source] {
		old = append(old, id)
	}
	if len(b.entries)-len(old)+len(entries) == 0 {
		dim = 0
	}

	err = b.db.Update(func(tx *bbolt.Tx) error {
		chunks := tx.Bucket(bucketChunks)
		for _, id := range old {
			if err := chunks.Delete([]byte(id)); err != nil {
				return err
			}
		}
		for i := range entries {
			entries[i].Metadata.Source = source
			data, err := json.Marshal(storedChunk{Vector: entries[i].Vector, Text: entries[i].Text, Metadata: entries[i].Metadata})
			if err != nil {
				return err
			}
			if err := chunks.Put([]byte(entries[i].ID), data); err != nil {
				return err
			}
		}
		return putDimension(tx, dim)
	})
	if err != nil {
		return 0, fmt.Errorf("write index failed: %w", err)
	}

	for _, id := range old {
		b.forget(id)
	}
	for _, e := range entries {
		b.remember(e)
	}
	b.dim = dim
	return len(old), nil
}

// putDimension records dim; 0 means empty, and any dimension fits.
func putDimension(tx *bbolt.Tx, dim int) error {
	if dim == 0 {
		return tx.Bucket(bucketMeta).Delete(keyDimension)
	}
	var raw [8]byte
	binary.BigEndian.PutUint64(raw[:], uint64(dim))
	return tx.Bucket(bucketMeta).Put(keyDimension, raw[:])
}

func (b *BoltIndex) Delete(ctx context.Context, filter Filter) (int, error) {
	if filter.Empty() {
		return 0, ErrEmptyFilter
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	var ids []string
	if filter.Source != "" {
		for id := range b.bySource[filter.Source] {
			if filter.Match(b.entries[id].Metadata) {
				ids = append(ids, id)
			}
		}
	} else {
		for id, e := range b.entries {
			if filter.Match(e.Metadata) {
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	emptied := len(ids) == len(b.entries)

	err := b.db.Update(func(tx *bbolt.Tx) error {
		chunks := tx.Bucket(bucketChunks)
		for _, id := range ids {
			if err := chunks.Delete([]byte(id)); err != nil {
				return err
			}
		}
		if emptied {
			return putDimension(tx, 0)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete from index failed: %w", err)
	}
	for _, id := range ids {
		b.forget(id)
	}
	if emptied {
		b.dim = 0
	}
	return len(ids), nil
}

func (b *BoltIndex) Search(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.entries) == 0 {
		return nil, nil
	}
	if len(vector) != b.dim {
		return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimensionMismatch, len(vector), b.dim)
	}
	candidates := make([]Entry, 0, len(b.entries))
	for _, e := range b.entries {
		candidates = append(candidates, e)
	}
	return rank(vector, candidates, k), nil
}

func (b *BoltIndex) Sources(context.Context) (map[string]SourceStat, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]SourceStat, len(b.bySource))
	for source, ids := range b.bySource {
		stat := SourceStat{Chunks: len(ids)}
		for id := range ids {
			stat.DocumentType = b.entries[id].Metadata.DocumentType
			break
		}
		out[source] = stat
	}
	return out, nil
}

func (b *BoltIndex) Count(context.Context) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries), nil
}

func (b *BoltIndex) Clear(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.entries)
	err := b.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketChunks); err != nil {
			return err
		}
		if _, err := tx.CreateBucket(bucketChunks); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Delete(keyDimension)
	})
	if err != nil {
		return 0, fmt.Errorf("clear index failed: %w", err)
	}
	b.entries = make(map[string]Entry)
	b.bySource = make(map[string]map[string]struct{})
	b.dim = 0
	return n, nil
}

func (b *BoltIndex) Dimension() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dim
}

func (b *BoltIndex) Backend() string { return "bolt" }

func (b *BoltIndex) Ping(context.Context) error {
	return b.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketChunks) == nil {
			return fmt.Errorf("chunks bucket missing")
		}
		return nil
	})
}

func (b *BoltIndex) SizeBytes() int64 {
	info, err := os.Stat(b.path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func (b *BoltIndex) Close() error {
	return b.db.Close()
}
