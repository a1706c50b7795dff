package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"quotesync/internal/qsync"
)

// Operations that can be made to fail on a MemoryStore.
const (
	OpPut     = "put"
	OpGet     = "get"
	OpStat    = "stat"
	OpDelete  = "delete"
	OpList    = "list"
	OpPresign = "presign"
)

type memoryObject struct {
	data        []byte
	contentType string
	modTime     time.Time
}

// MemoryStore is an in-memory ObjectStore for tests. Failures can be injected
// per operation with FailOn. Safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	fail    map[string]error
	calls   map[string]int
	now     func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string]memoryObject),
		fail:    make(map[string]error),
		calls:   make(map[string]int),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// FailOn makes every subsequent call of op return err. A nil err clears it.
func (m *MemoryStore) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fail, op)
		return
	}
	m.fail[op] = err
}

// Calls returns how many times op was invoked.
func (m *MemoryStore) Calls(op string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[op]
}

// Keys returns every stored key in order.
func (m *MemoryStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Bytes returns a copy of the object at key, or nil.
func (m *MemoryStore) Bytes(key string) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil
	}
	return bytes.Clone(obj.data)
}

// begin records a call and returns the injected failure for op, if any.
// Callers hold m.mu.
func (m *MemoryStore) begin(op string) error {
	m.calls[op]++
	if err := m.fail[op]; err != nil {
		return qsync.StorageError(op, err)
	}
	return nil
}

// Put stores content at key.
func (m *MemoryStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if err := qsync.ValidateKey(key); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading content: %w", err)
	}
	if size >= 0 && int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpPut); err != nil {
		return err
	}
	m.objects[key] = memoryObject{data: data, contentType: contentType, modTime: m.now()}
	return nil
}

// Get returns a reader over the object at key.
func (m *MemoryStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpGet); err != nil {
		return nil, err
	}
	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", key, qsync.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

// Stat returns metadata for the object at key.
func (m *MemoryStore) Stat(ctx context.Context, key string) (*qsync.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpStat); err != nil {
		return nil, err
	}
	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("stat %s: %w", key, qsync.ErrNotFound)
	}
	return &qsync.ObjectInfo{Key: key, Size: int64(len(obj.data)), ContentType: obj.contentType, ModTime: obj.modTime}, nil
}

// Delete removes key.
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpDelete); err != nil {
		return err
	}
	delete(m.objects, key)
	return nil
}

// List returns objects under prefix ordered by key.
func (m *MemoryStore) List(ctx context.Context, prefix string) ([]qsync.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpList); err != nil {
		return nil, err
	}
	var out []qsync.ObjectInfo
	for k, obj := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, qsync.ObjectInfo{Key: k, Size: int64(len(obj.data)), ContentType: obj.contentType, ModTime: obj.modTime})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// PresignGet returns a fake URL embedding key and ttl.
func (m *MemoryStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpPresign); err != nil {
		return "", err
	}
	return "memory://bucket/" + key + "?expires=" + url.QueryEscape(ttl.String()), nil
}

var _ qsync.ObjectStore = (*MemoryStore)(nil)
