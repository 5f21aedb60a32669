package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/andresmejia3/attendant/internal/types"
)

// Memory is an in-process registry with the same semantics as Postgres.
// Nothing survives the process.
type Memory struct {
	mu    sync.RWMutex
	faces map[string]types.RegisteredFace

	// FailWrites makes Upsert fail with ErrPersistenceFailure. Used to exercise error paths.
	FailWrites bool
}

// NewMemory returns an empty registry.
func NewMemory() *Memory {
	return &Memory{faces: make(map[string]types.RegisteredFace)}
}

func (m *Memory) LoadAll(ctx context.Context) ([]types.RegisteredFace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.RegisteredFace, 0, len(m.faces))
	for _, f := range m.faces {
		f.Embedding = f.Embedding.Clone()
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) Upsert(ctx context.Context, f types.RegisteredFace) error {
	if err := validate(f); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return types.ErrPersistenceFailure
	}
	f.Embedding = f.Embedding.Clone()
	f.CreatedAt = time.Now()
	m.faces[f.Name] = f
	return nil
}

func (m *Memory) Stats(ctx context.Context) (count, guests int, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, f := range m.faces {
		guests += f.GuestCount
	}
	return len(m.faces), guests, nil
}

func (m *Memory) Delete(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.faces[name]
	delete(m.faces, name)
	return ok, nil
}

func (m *Memory) Rename(ctx context.Context, oldName, newName string) (bool, error) {
	if newName == "" {
		return false, fmt.Errorf("%w: empty name", types.ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.faces[oldName]
	if !ok {
		return false, nil
	}
	if oldName == newName {
		return true, nil
	}
	if _, taken := m.faces[newName]; taken {
		return false, fmt.Errorf("%w: %q is already registered", types.ErrInvalidInput, newName)
	}
	delete(m.faces, oldName)
	f.Name = newName
	m.faces[newName] = f
	return true, nil
}

func (m *Memory) Get(ctx context.Context, name string) (types.RegisteredFace, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.faces[name]
	f.Embedding = f.Embedding.Clone()
	return f, ok, nil
}

func (m *Memory) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faces = make(map[string]types.RegisteredFace)
	return nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) Close() {}
