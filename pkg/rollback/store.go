package rollback

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/newtron-network/newtdeploy/pkg/model"
	"github.com/newtron-network/newtdeploy/pkg/util"
)

// Store is a durable keyed store of rollback configurations. Get returns an
// error wrapping util.ErrNotFound when the key is absent.
type Store interface {
	Put(ctx context.Context, key string, rc *model.RollbackConfig) error
	Get(ctx context.Context, key string) (*model.RollbackConfig, error)
	List(ctx context.Context) ([]*model.RollbackConfig, error)
	Delete(ctx context.Context, key string) error
}

// MemoryStore keeps rollbacks in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*model.RollbackConfig
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*model.RollbackConfig)}
}

func (s *MemoryStore) Put(_ context.Context, key string, rc *model.RollbackConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = clone(rc)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (*model.RollbackConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rc, ok := s.entries[key]
	if !ok {
		return nil, fmt.Errorf("rollback %s: %w", key, util.ErrNotFound)
	}
	return clone(rc), nil
}

func (s *MemoryStore) List(_ context.Context) ([]*model.RollbackConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.RollbackConfig, 0, len(s.entries))
	for _, rc := range s.entries {
		out = append(out, clone(rc))
	}
	sortByCreated(out)
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func clone(rc *model.RollbackConfig) *model.RollbackConfig {
	if rc == nil {
		return nil
	}
	c := *rc
	c.Commands = append([]string(nil), rc.Commands...)
	if rc.DeviceCommands != nil {
		c.DeviceCommands = make(map[string][]string, len(rc.DeviceCommands))
		for k, v := range rc.DeviceCommands {
			c.DeviceCommands[k] = append([]string(nil), v...)
		}
	}
	if rc.Metadata != nil {
		c.Metadata = make(map[string]string, len(rc.Metadata))
		for k, v := range rc.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// sortByCreated orders oldest first, breaking ties by key.
func sortByCreated(list []*model.RollbackConfig) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].Key() < list[j].Key()
	})
}
