package store

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"concierge/config"
)

// MemoryStore keeps conversations in a process-local map. Expiry is checked
// lazily on every access and a background sweep reclaims idle entries, so an
// expired conversation is never returned even if the sweeper is behind.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	ttl     time.Duration

	now  func() time.Time
	stop chan struct{}
	once sync.Once
}

type memoryEntry struct {
	conv   *Conversation
	inTurn bool
}

// NewMemoryStore creates a store with the given TTL (DefaultTTL when zero)
// and starts its sweep goroutine.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	s := &MemoryStore{
		entries: make(map[string]*memoryEntry),
		ttl:     ttl,
		now:     time.Now,
		stop:    make(chan struct{}),
	}

	go s.sweep()
	return s
}

func (s *MemoryStore) Create(userID string, role config.Role) (*Conversation, error) {
	now := s.now().UTC()
	conv := &Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.entries[conv.ID] = &memoryEntry{conv: conv}
	s.mu.Unlock()

	return copyConversation(conv), nil
}

func (s *MemoryStore) Get(id, userID string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[id]
	if !ok || s.expired(entry.conv) || entry.conv.UserID != userID {
		return nil, nil
	}
	return copyConversation(entry.conv), nil
}

func (s *MemoryStore) ListForUser(userID string, roleFilter config.Role, limit int) ([]*Conversation, error) {
	s.mu.RLock()
	var out []*Conversation
	for _, entry := range s.entries {
		conv := entry.conv
		if conv.UserID != userID || s.expired(conv) {
			continue
		}
		if roleFilter != "" && conv.Role != roleFilter {
			continue
		}
		out = append(out, copyConversation(conv))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Append(id string, msg Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok || s.expired(entry.conv) {
		return ErrConversationNotFound
	}

	entry.conv.Messages = append(entry.conv.Messages, msg)
	entry.conv.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryStore) Delete(id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok || entry.conv.UserID != userID {
		return nil
	}
	delete(s.entries, id)
	return nil
}

func (s *MemoryStore) BeginTurn(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return ErrConversationNotFound
	}
	if entry.inTurn {
		return ErrTurnInProgress
	}
	entry.inTurn = true
	return nil
}

func (s *MemoryStore) EndTurn(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.entries[id]; ok {
		entry.inTurn = false
	}
}

func (s *MemoryStore) Close() error {
	s.once.Do(func() { close(s.stop) })
	return nil
}

func (s *MemoryStore) expired(conv *Conversation) bool {
	return s.now().Sub(conv.UpdatedAt) > s.ttl
}

func (s *MemoryStore) sweep() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			for id, entry := range s.entries {
				// An in-turn conversation is live by definition; leave it
				// for the next pass.
				if s.expired(entry.conv) && !entry.inTurn {
					delete(s.entries, id)
				}
			}
			s.mu.Unlock()
		}
	}
}

// copyConversation returns a deep copy so callers cannot mutate the stored
// transcript behind the append-only API.
func copyConversation(conv *Conversation) *Conversation {
	out := *conv
	out.Messages = make([]Message, len(conv.Messages))
	copy(out.Messages, conv.Messages)
	for i := range out.Messages {
		if len(conv.Messages[i].ToolUses) > 0 {
			out.Messages[i].ToolUses = make([]ToolUse, len(conv.Messages[i].ToolUses))
			copy(out.Messages[i].ToolUses, conv.Messages[i].ToolUses)
		}
	}
	return &out
}
