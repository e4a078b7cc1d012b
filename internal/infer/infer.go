// Package infer determines an object's kind from its ID prefix,
// optionally verifying the object exists on disk. Validated lookups go
// through an mtime-checked LRU so repeated inference over the same IDs
// stays cheap.
package infer

import (
	"context"
	"os"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/trellisplan/trellis/internal/paths"
	"github.com/trellisplan/trellis/internal/trelliserr"
	"github.com/trellisplan/trellis/internal/types"
	"github.com/trellisplan/trellis/internal/validation"
)

// DefaultCacheSize is the default LRU capacity.
const DefaultCacheSize = 1000

// staleFallbackTTL bounds how long a cached entry may be trusted when
// its file mtime cannot be recaptured at the recorded path.
const staleFallbackTTL = 60 * time.Second

// Result is the outcome of a validated inference.
type Result struct {
	InferredKind types.Kind `json:"inferred_kind"`
	ID           string     `json:"id"` // normalized (canonical task form)
	FilePath     string     `json:"-"`
	FileMtime    time.Time  `json:"file_mtime"`
	Validated    bool       `json:"validated"`
}

type cacheEntry struct {
	kind     types.Kind
	path     string
	mtime    time.Time
	storedAt time.Time
}

// Engine caches validated inferences. Safe for concurrent use; the
// cache is the only state Trellis keeps across requests.
type Engine struct {
	mu    sync.Mutex
	cache *lru.Cache[string, cacheEntry]

	hits   uint64
	misses uint64
}

// NewEngine builds an engine with the given LRU capacity (0 means
// DefaultCacheSize).
func NewEngine(capacity int) (*Engine, error) {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	cache, err := lru.New[string, cacheEntry](capacity)
	if err != nil {
		return nil, err
	}
	return &Engine{cache: cache}, nil
}

// Infer resolves the kind from the ID prefix alone. No filesystem
// access and no caching: an unvalidated answer must never satisfy a
// later validated lookup.
func (e *Engine) Infer(id string) (types.Kind, error) {
	if err := validation.ScreenID("id", id); err != nil {
		return "", err
	}
	kind, ok := types.KindForID(id)
	if !ok {
		return "", trelliserr.New(trelliserr.CodeInvalidIDFormat,
			"id prefix does not match P-, E-, F-, T- or task-").With("id", id)
	}
	normalized := types.CanonicalTaskID(id)
	if !types.ValidID(kind, normalized) {
		return "", trelliserr.New(trelliserr.CodeInvalidIDFormat,
			"malformed %s identifier", kind).With("id", id)
	}
	return kind, nil
}

// InferWithValidation resolves the kind and confirms the object exists
// under root. Cache entries are valid only while the file's mtime is
// unchanged; a moved or edited file forces recomputation.
func (e *Engine) InferWithValidation(ctx context.Context, id, root string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	kind, err := e.Infer(id)
	if err != nil {
		return nil, err
	}
	normalized := types.CanonicalTaskID(id)
	key := root + "\x00" + normalized

	e.mu.Lock()
	entry, ok := e.cache.Get(key)
	e.mu.Unlock()
	if ok {
		info, statErr := os.Stat(entry.path)
		switch {
		case statErr == nil && info.ModTime().Equal(entry.mtime):
			e.mu.Lock()
			e.hits++
			e.mu.Unlock()
			return &Result{
				InferredKind: entry.kind,
				ID:           normalized,
				FilePath:     entry.path,
				FileMtime:    entry.mtime,
				Validated:    true,
			}, nil
		case statErr != nil && !os.IsNotExist(statErr) && time.Since(entry.storedAt) < staleFallbackTTL:
			// The mtime cannot be recaptured right now (transient stat
			// failure). Trust a fresh entry under the TTL fallback.
			e.mu.Lock()
			e.hits++
			e.mu.Unlock()
			return &Result{
				InferredKind: entry.kind,
				ID:           normalized,
				FilePath:     entry.path,
				FileMtime:    entry.mtime,
				Validated:    true,
			}, nil
		default:
			// mtime moved or the file is gone from the recorded path.
			e.mu.Lock()
			e.cache.Remove(key)
			e.mu.Unlock()
		}
	}

	path, err := paths.IDToPath(kind, normalized, root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, trelliserr.New(trelliserr.CodeObjectNotFound,
			"object %s disappeared during resolution", normalized).With("id", normalized)
	}

	e.mu.Lock()
	e.misses++
	e.cache.Add(key, cacheEntry{
		kind:     kind,
		path:     path,
		mtime:    info.ModTime(),
		storedAt: time.Now(),
	})
	e.mu.Unlock()

	return &Result{
		InferredKind: kind,
		ID:           normalized,
		FilePath:     path,
		FileMtime:    info.ModTime(),
		Validated:    true,
	}, nil
}

// Invalidate drops any cached entry for the ID. Mutating engines call
// this after moving a file so the next inference restats.
func (e *Engine) Invalidate(id, root string) {
	key := root + "\x00" + types.CanonicalTaskID(id)
	e.mu.Lock()
	e.cache.Remove(key)
	e.mu.Unlock()
}

// Stats reports cache hit/miss counters and current length.
func (e *Engine) Stats() (hits, misses uint64, size int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hits, e.misses, e.cache.Len()
}
