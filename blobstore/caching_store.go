package blobstore

import (
	"container/list"
	"context"
	"sync"
)

// CachingStore wraps a BlobStore with a byte-capacity LRU of whole
// blobs. Media blobs are immutable and frequently re-served (the same
// popular items get fetched over and over), so whole-object caching
// pays off without invalidation complexity: Put and Delete evict the
// affected name.
type CachingStore struct {
	inner    BlobStore
	capacity int64

	mu    sync.Mutex
	size  int64
	order *list.List // front = most recently used
	items map[string]*list.Element
}

type cacheEntry struct {
	name string
	data []byte
}

// NewCachingStore creates a CachingStore holding at most capacity bytes.
// capacity defaults to 64 MiB if <= 0.
func NewCachingStore(inner BlobStore, capacity int64) *CachingStore {
	if capacity <= 0 {
		capacity = 64 << 20
	}
	return &CachingStore{
		inner:    inner,
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
}

// Get serves from cache when possible, reading through on a miss.
func (s *CachingStore) Get(ctx context.Context, name string) ([]byte, error) {
	if data, ok := s.lookup(name); ok {
		return data, nil
	}

	data, err := s.inner.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	s.insert(name, data)
	return data, nil
}

// Put writes through, evicting any cached copy of the name.
func (s *CachingStore) Put(ctx context.Context, name string, data []byte) error {
	s.evict(name)
	return s.inner.Put(ctx, name, data)
}

// Delete removes the blob and its cached copy.
func (s *CachingStore) Delete(ctx context.Context, name string) error {
	s.evict(name)
	return s.inner.Delete(ctx, name)
}

// List passes through; listings are not cached.
func (s *CachingStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

func (s *CachingStore) lookup(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[name]
	if !ok {
		return nil, false
	}
	s.order.MoveToFront(el)

	cached := el.Value.(*cacheEntry).data
	data := make([]byte, len(cached))
	copy(data, cached)
	return data, true
}

func (s *CachingStore) insert(name string, data []byte) {
	if int64(len(data)) > s.capacity {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.items[name]; ok {
		s.order.MoveToFront(el)
		return
	}

	copied := make([]byte, len(data))
	copy(copied, data)
	s.items[name] = s.order.PushFront(&cacheEntry{name: name, data: copied})
	s.size += int64(len(copied))

	for s.size > s.capacity {
		oldest := s.order.Back()
		if oldest == nil {
			break
		}
		entry := oldest.Value.(*cacheEntry)
		s.order.Remove(oldest)
		delete(s.items, entry.name)
		s.size -= int64(len(entry.data))
	}
}

func (s *CachingStore) evict(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.items[name]; ok {
		entry := el.Value.(*cacheEntry)
		s.order.Remove(el)
		delete(s.items, name)
		s.size -= int64(len(entry.data))
	}
}
