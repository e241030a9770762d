package store

import (
	"context"
	"sync"

	"github.com/mbeoliero/convsync/internal/entity"
)

// Memory keeps conversation snapshots in process. It survives a session
// reset but not a restart.
type Memory struct {
	mu    sync.RWMutex
	items map[string][]*entity.ConversationPreview
}

// NewMemory creates an empty in-process store
func NewMemory() *Memory {
	return &Memory{items: make(map[string][]*entity.ConversationPreview)}
}

func (m *Memory) Load(_ context.Context, ownerId string) ([]*entity.ConversationPreview, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return clonePreviews(m.items[ownerId]), nil
}

func (m *Memory) Save(_ context.Context, ownerId string, previews []*entity.ConversationPreview) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[ownerId] = clonePreviews(previews)
	return nil
}

func (m *Memory) Clear(_ context.Context, ownerId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, ownerId)
	return nil
}

func clonePreviews(in []*entity.ConversationPreview) []*entity.ConversationPreview {
	if len(in) == 0 {
		return nil
	}
	out := make([]*entity.ConversationPreview, 0, len(in))
	for _, p := range in {
		if p != nil {
			out = append(out, p.Clone())
		}
	}
	return out
}
