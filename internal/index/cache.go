package index

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/alucardeht/code-fader/internal/logger"
	"github.com/alucardeht/code-fader/internal/types"
)

var log = logger.ForComponent("index")

const DefaultMemoryEntries = 256

// Document is the part of an open document the cache needs: a stable
// identity used for store keys and the language id that picks a normalizer.
type Document interface {
	ID() string
	LanguageID() string
}

// SymbolProvider returns the hierarchical symbol tree of a document.
type SymbolProvider interface {
	DocumentSymbols(ctx context.Context, doc Document) ([]types.SymbolOccurrence, error)
}

// ModTimeFunc reports a document's external modification time. ok is false
// when it cannot be determined.
type ModTimeFunc func(ctx context.Context, doc Document) (mtime int64, ok bool)

type CacheStats struct {
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	ProviderCalls int64 `json:"provider_calls"`
	Corrupt       int64 `json:"corrupt"`
}

// Cache keeps one SymbolIndex per document, coherent with the document's
// modification time. A stored index is served only while the recorded mtime
// matches the current one; anything else rebuilds from the provider.
type Cache struct {
	store       Store
	provider    SymbolProvider
	modTime     ModTimeFunc
	normalizers Normalizers
	memo        *lru.Cache[string, *SymbolIndex]

	hits          atomic.Int64
	misses        atomic.Int64
	providerCalls atomic.Int64
	corrupt       atomic.Int64
}

type CacheOption func(*cacheOptions)

type cacheOptions struct {
	normalizers   Normalizers
	memoryEntries int
}

func WithNormalizers(n Normalizers) CacheOption {
	return func(o *cacheOptions) { o.normalizers = n }
}

func WithMemoryEntries(n int) CacheOption {
	return func(o *cacheOptions) { o.memoryEntries = n }
}

func NewCache(store Store, provider SymbolProvider, modTime ModTimeFunc, opts ...CacheOption) (*Cache, error) {
	o := cacheOptions{
		normalizers:   DefaultNormalizers(),
		memoryEntries: DefaultMemoryEntries,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.memoryEntries <= 0 {
		o.memoryEntries = DefaultMemoryEntries
	}

	memo, err := lru.New[string, *SymbolIndex](o.memoryEntries)
	if err != nil {
		return nil, fmt.Errorf("create memo cache: %w", err)
	}

	return &Cache{
		store:       store,
		provider:    provider,
		modTime:     modTime,
		normalizers: o.normalizers,
		memo:        memo,
	}, nil
}

// Load returns the symbol index for doc. It never fails: provider and store
// errors degrade to an empty or freshly rebuilt index.
func (c *Cache) Load(ctx context.Context, doc Document) *SymbolIndex {
	id := doc.ID()
	mtime, known := c.modTime(ctx, doc)

	if known {
		if idx, ok := c.lookup(ctx, id, mtime); ok {
			c.hits.Add(1)
			return idx
		}
	}

	c.misses.Add(1)
	return c.rebuild(ctx, doc, mtime, known)
}

func (c *Cache) lookup(ctx context.Context, id string, mtime int64) (*SymbolIndex, bool) {
	memoKey := id + "@" + strconv.FormatInt(mtime, 10)
	if idx, ok := c.memo.Get(memoKey); ok {
		return idx, true
	}

	raw, found, err := c.store.Get(ctx, FileMtimeKey(id))
	if err != nil {
		log.Warn("read mtime failed", "doc", id, "error", err)
		return nil, false
	}
	if !found {
		return nil, false
	}
	recorded, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil || recorded != mtime {
		return nil, false
	}

	payload, found, err := c.store.Get(ctx, SymbolMapKey(id))
	if err != nil {
		log.Warn("read symbol map failed", "doc", id, "error", err)
		return nil, false
	}
	if !found {
		idx := NewSymbolIndex()
		c.memo.Add(memoKey, idx)
		return idx, true
	}

	idx, ok := DecodeIndex(payload)
	if !ok {
		c.corrupt.Add(1)
		log.Warn("discarding corrupt symbol map", "doc", id)
		return nil, false
	}

	c.memo.Add(memoKey, idx)
	return idx, true
}

func (c *Cache) rebuild(ctx context.Context, doc Document, mtime int64, known bool) *SymbolIndex {
	id := doc.ID()

	c.providerCalls.Add(1)
	tree, err := c.provider.DocumentSymbols(ctx, doc)
	if err != nil {
		log.Warn("symbol provider failed", "doc", id, "error", err)
		tree = nil
	}

	idx := BuildIndex(tree, doc.LanguageID(), c.normalizers)
	log.Debug("symbol index rebuilt", "doc", id, "names", idx.Len(), "mtime_known", known)

	payload, err := EncodeIndex(idx)
	if err != nil {
		log.Warn("encode symbol map failed", "doc", id, "error", err)
		return idx
	}

	if !known {
		if err := c.store.Delete(ctx, FileMtimeKey(id)); err != nil {
			log.Warn("clear mtime failed", "doc", id, "error", err)
		}
		if err := c.store.Set(ctx, Entry{Key: SymbolMapKey(id), Value: payload}); err != nil {
			log.Warn("persist symbol map failed", "doc", id, "error", err)
		}
		return idx
	}

	err = c.store.Set(ctx,
		Entry{Key: SymbolMapKey(id), Value: payload},
		Entry{Key: FileMtimeKey(id), Value: []byte(strconv.FormatInt(mtime, 10))},
	)
	if err != nil {
		log.Warn("persist symbol map failed", "doc", id, "error", err)
		return idx
	}

	c.memo.Add(id+"@"+strconv.FormatInt(mtime, 10), idx)
	return idx
}

func (c *Cache) Stats() CacheStats {
	return CacheStats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		ProviderCalls: c.providerCalls.Load(),
		Corrupt:       c.corrupt.Load(),
	}
}

// Purge drops the in-process memo. Persisted entries are kept.
func (c *Cache) Purge() {
	c.memo.Purge()
}
