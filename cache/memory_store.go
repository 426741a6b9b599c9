package cache

import (
	"context"
	"sync"
)

// MemoryStore keeps artifacts for the life of the process. Used when no
// durable backend is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]string)}
}

func (m *MemoryStore) Read(_ context.Context, bucket, fingerprint string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	payload, ok := m.entries[bucket+"/"+fingerprint]
	return payload, ok, nil
}

func (m *MemoryStore) Write(_ context.Context, artifacts []StoredArtifact) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		key := a.Bucket + "/" + a.Fingerprint
		m.entries[key] = a.Payload
		keys = append(keys, "mem://"+key+"."+a.Extension)
	}
	return keys, nil
}

// Len returns the number of stored entries.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
