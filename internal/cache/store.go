package cache

import (
	"context"
	"log/slog"
	"sync"

	"github.com/habitstack/realtime/internal/model"
)

// Wrapped is the envelope shape some list views are cached under.
type Wrapped struct {
	Data []model.Record `json:"data"`
}

// InvalidationSink receives coalesced invalidation instructions.
type InvalidationSink interface {
	// Invalidate marks the key stale; the next observer triggers a fetch.
	Invalidate(key string)

	// RefetchActive refetches the key immediately if a mounted view is
	// observing it, otherwise degrades to Invalidate.
	RefetchActive(key string)
}

// Store is the query cache contract the engine depends on.
type Store interface {
	InvalidationSink

	// Get returns the value cached under key.
	Get(key string) (any, bool)

	// Set writes a value under key, cancelling in-flight fetches for the
	// key first so a stale response cannot overwrite it.
	Set(key string, value any)

	// Delete removes key entirely, cancelling in-flight fetches.
	Delete(key string)

	// Mount marks key as observed by a mounted view.
	Mount(key string)

	// Unmount removes the mounted mark.
	Unmount(key string)

	// BeginFetch registers an in-flight fetch for key and returns a
	// context cancelled if the key is written before the fetch lands.
	// The returned release func must be called when the fetch settles.
	BeginFetch(ctx context.Context, key string) (context.Context, func())

	// CancelFetches cancels all in-flight fetches for key.
	CancelFetches(key string)

	// Stale reports whether key is currently marked stale.
	Stale(key string) bool
}

// Fetcher loads a key from the network when the store needs fresh data.
// The store invokes it for active refetches; invalidated keys wait for
// their next natural observer instead.
type Fetcher func(ctx context.Context, key string) (any, error)

// memoryStore is the in-memory Store implementation.
type memoryStore struct {
	logger  *slog.Logger
	fetcher Fetcher

	mu      sync.Mutex
	entries map[string]any
	stale   map[string]struct{}
	mounted map[string]int
	fetches map[string]map[int64]context.CancelFunc
	fetchID int64
}

// Option configures the store.
type Option func(*memoryStore)

// WithFetcher installs the network loader used by RefetchActive.
func WithFetcher(f Fetcher) Option {
	return func(s *memoryStore) { s.fetcher = f }
}

// WithLogger sets the store's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *memoryStore) { s.logger = logger }
}

// New creates an empty in-memory store.
func New(opts ...Option) Store {
	s := &memoryStore{
		logger:  slog.Default(),
		entries: make(map[string]any),
		stale:   make(map[string]struct{}),
		mounted: make(map[string]int),
		fetches: make(map[string]map[int64]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *memoryStore) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.entries[key]
	return v, ok
}

func (s *memoryStore) Set(key string, value any) {
	s.cancelFetchesFor(key)

	s.mu.Lock()
	s.entries[key] = value
	delete(s.stale, key)
	s.mu.Unlock()
}

func (s *memoryStore) Delete(key string) {
	s.cancelFetchesFor(key)

	s.mu.Lock()
	delete(s.entries, key)
	delete(s.stale, key)
	s.mu.Unlock()
}

func (s *memoryStore) Invalidate(key string) {
	s.mu.Lock()
	if _, ok := s.entries[key]; ok {
		s.stale[key] = struct{}{}
	}
	s.mu.Unlock()
}

func (s *memoryStore) RefetchActive(key string) {
	s.mu.Lock()
	active := s.mounted[key] > 0
	fetcher := s.fetcher
	s.mu.Unlock()

	if !active || fetcher == nil {
		s.Invalidate(key)
		return
	}

	fetchCtx, release := s.BeginFetch(context.Background(), key)
	go func() {
		defer release()
		value, err := fetcher(fetchCtx, key)
		if err != nil {
			s.logger.Debug("refetch failed", "key", key, "error", err)
			return
		}
		// A write that raced this fetch cancelled the context; its
		// result is newer than ours, so discard. The check holds the
		// store lock because Set cancels before taking it: any write
		// that already landed is visible here as a cancellation.
		s.mu.Lock()
		if fetchCtx.Err() != nil {
			s.mu.Unlock()
			return
		}
		s.entries[key] = value
		delete(s.stale, key)
		s.mu.Unlock()
	}()
}

func (s *memoryStore) Mount(key string) {
	s.mu.Lock()
	s.mounted[key]++
	s.mu.Unlock()
}

func (s *memoryStore) Unmount(key string) {
	s.mu.Lock()
	if s.mounted[key] > 1 {
		s.mounted[key]--
	} else {
		delete(s.mounted, key)
	}
	s.mu.Unlock()
}

func (s *memoryStore) BeginFetch(ctx context.Context, key string) (context.Context, func()) {
	fetchCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.fetchID++
	id := s.fetchID
	if s.fetches[key] == nil {
		s.fetches[key] = make(map[int64]context.CancelFunc)
	}
	s.fetches[key][id] = cancel
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		if m := s.fetches[key]; m != nil {
			delete(m, id)
			if len(m) == 0 {
				delete(s.fetches, key)
			}
		}
		s.mu.Unlock()
		cancel()
	}
	return fetchCtx, release
}

func (s *memoryStore) CancelFetches(key string) {
	s.cancelFetchesFor(key)
}

func (s *memoryStore) cancelFetchesFor(key string) {
	s.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(s.fetches[key]))
	for _, cancel := range s.fetches[key] {
		cancels = append(cancels, cancel)
	}
	delete(s.fetches, key)
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

func (s *memoryStore) Stale(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.stale[key]
	return ok
}
