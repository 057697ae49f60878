package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/collabhub/collabhub/pkg/types"
)

// Memory is a thread-safe in-memory Store. Values are copied on the way in
// and on the way out, so callers never share state with the store.
type Memory struct {
	mu       sync.RWMutex
	users    map[string]*types.User
	messages map[string]*types.Message
	polls    map[string]*types.Poll
	now      func() time.Time // injectable for deterministic tests
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		users:    make(map[string]*types.User),
		messages: make(map[string]*types.Message),
		polls:    make(map[string]*types.Poll),
		now:      time.Now,
	}
}

// --- users ------------------------------------------------------------------

func (s *Memory) FindUser(_ context.Context, id string) (*types.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %q: %w", id, types.ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

func (s *Memory) CreateUser(_ context.Context, u *types.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if _, ok := s.users[u.ID]; ok {
		return fmt.Errorf("%w: user %q already exists", types.ErrValidation, u.ID)
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *Memory) UpdateUser(_ context.Context, u *types.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; !ok {
		return fmt.Errorf("user %q: %w", u.ID, types.ErrNotFound)
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *Memory) ListActiveUsers(_ context.Context) ([]*types.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.User, 0, len(s.users))
	for _, u := range s.users {
		if u.IsActive {
			cp := *u
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *Memory) ResetPresence(_ context.Context, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, u := range s.users {
		if !u.IsActive && u.Status == types.StatusOffline && u.CurrentConnectionID == "" {
			continue
		}
		u.IsActive = false
		u.Status = types.StatusOffline
		u.CurrentConnectionID = ""
		u.LastActive = at
		n++
	}
	return n, nil
}

func (s *Memory) CountUsers(_ context.Context) (UserCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var c UserCounts
	for _, u := range s.users {
		c.Total++
		if u.IsActive {
			c.Active++
		}
		switch u.Status {
		case types.StatusOnline:
			c.Online++
		case types.StatusAway:
			c.Away++
		default:
			c.Offline++
		}
	}
	return c, nil
}

// --- messages ---------------------------------------------------------------

func copyMessage(m *types.Message) *types.Message {
	cp := *m
	if m.EditedAt != nil {
		t := *m.EditedAt
		cp.EditedAt = &t
	}
	if m.DeletedAt != nil {
		t := *m.DeletedAt
		cp.DeletedAt = &t
	}
	return &cp
}

func (s *Memory) CreateMessage(_ context.Context, m *types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	s.messages[m.ID] = copyMessage(m)
	return nil
}

func (s *Memory) GetMessage(_ context.Context, id string) (*types.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, fmt.Errorf("message %q: %w", id, types.ErrNotFound)
	}
	return copyMessage(m), nil
}

func (s *Memory) UpdateMessage(_ context.Context, m *types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[m.ID]; !ok {
		return fmt.Errorf("message %q: %w", m.ID, types.ErrNotFound)
	}
	s.messages[m.ID] = copyMessage(m)
	return nil
}

func (s *Memory) SoftDeleteMessage(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return fmt.Errorf("message %q: %w", id, types.ErrNotFound)
	}
	m.IsDeleted = true
	m.DeletedAt = &at
	return nil
}

func (s *Memory) DeleteMessage(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[id]; !ok {
		return fmt.Errorf("message %q: %w", id, types.ErrNotFound)
	}
	delete(s.messages, id)
	return nil
}

func (s *Memory) ListMessages(_ context.Context, before time.Time, limit int) ([]*types.Message, error) {
	limit = ClampLimit(limit)
	s.mu.RLock()
	out := make([]*types.Message, 0, len(s.messages))
	for _, m := range s.messages {
		if m.IsDeleted {
			continue
		}
		if !before.IsZero() && !m.CreatedAt.Before(before) {
			continue
		}
		out = append(out, copyMessage(m))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Memory) CountByType(_ context.Context) (map[types.MessageType]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[types.MessageType]int, len(types.MessageTypes))
	for _, m := range s.messages {
		if !m.IsDeleted {
			out[m.Type]++
		}
	}
	return out, nil
}

func (s *Memory) CountSince(_ context.Context, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, m := range s.messages {
		if !m.IsDeleted && !m.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// PurgeDeleted removes soft-deleted messages whose DeletedAt is before
// olderThan. It returns the number of messages removed.
func (s *Memory) PurgeDeleted(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, m := range s.messages {
		if m.IsDeleted && m.DeletedAt != nil && m.DeletedAt.Before(olderThan) {
			delete(s.messages, id)
			removed++
		}
	}
	return removed, nil
}

// --- polls ------------------------------------------------------------------

func (s *Memory) CreatePoll(_ context.Context, p *types.Poll) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if _, ok := s.polls[p.ID]; ok {
		return fmt.Errorf("%w: poll %q already exists", types.ErrValidation, p.ID)
	}
	s.polls[p.ID] = p.Clone()
	return nil
}

func (s *Memory) GetPoll(_ context.Context, id string) (*types.Poll, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.polls[id]
	if !ok {
		return nil, fmt.Errorf("poll %q: %w", id, types.ErrNotFound)
	}
	return p.Clone(), nil
}

func (s *Memory) UpdatePoll(_ context.Context, p *types.Poll) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.polls[p.ID]; !ok {
		return fmt.Errorf("poll %q: %w", p.ID, types.ErrNotFound)
	}
	s.polls[p.ID] = p.Clone()
	return nil
}

func (s *Memory) DeletePoll(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.polls[id]; !ok {
		return fmt.Errorf("poll %q: %w", id, types.ErrNotFound)
	}
	delete(s.polls, id)
	return nil
}

func (s *Memory) ListPolls(_ context.Context) ([]*types.Poll, error) {
	s.mu.RLock()
	out := make([]*types.Poll, 0, len(s.polls))
	for _, p := range s.polls {
		out = append(out, p.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// --- lifecycle --------------------------------------------------------------

func (s *Memory) Ping(context.Context) error  { return nil }
func (s *Memory) Close(context.Context) error { return nil }
