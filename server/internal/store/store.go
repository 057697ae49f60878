package store

import (
	"context"
	"time"

	"github.com/collabhub/collabhub/pkg/types"
)

// DefaultPageSize and MaxPageSize bound ListMessages.
const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// UserCounts summarises presence across all known users.
type UserCounts struct {
	Total   int `json:"total"`
	Active  int `json:"active"`
	Online  int `json:"online"`
	Away    int `json:"away"`
	Offline int `json:"offline"`
}

// Users persists user identities and presence fields.
type Users interface {
	FindUser(ctx context.Context, id string) (*types.User, error)
	CreateUser(ctx context.Context, u *types.User) error
	UpdateUser(ctx context.Context, u *types.User) error
	ListActiveUsers(ctx context.Context) ([]*types.User, error)
	CountUsers(ctx context.Context) (UserCounts, error)

	// ResetPresence marks every user that is active or not offline as
	// offline with no connection, stamping LastActive with at. It returns
	// the number of users changed.
	ResetPresence(ctx context.Context, at time.Time) (int, error)
}

// Messages persists the chat log.
type Messages interface {
	// CreateMessage stores m, assigning m.ID when empty.
	CreateMessage(ctx context.Context, m *types.Message) error
	GetMessage(ctx context.Context, id string) (*types.Message, error)
	UpdateMessage(ctx context.Context, m *types.Message) error
	SoftDeleteMessage(ctx context.Context, id string, at time.Time) error
	DeleteMessage(ctx context.Context, id string) error

	// ListMessages returns up to limit non-deleted messages created strictly
	// before before (zero means no bound), newest first.
	ListMessages(ctx context.Context, before time.Time, limit int) ([]*types.Message, error)

	// CountByType counts non-deleted messages per type.
	CountByType(ctx context.Context) (map[types.MessageType]int, error)

	// CountSince counts non-deleted messages created at or after since.
	CountSince(ctx context.Context, since time.Time) (int, error)

	// PurgeDeleted removes soft-deleted messages deleted before olderThan.
	PurgeDeleted(ctx context.Context, olderThan time.Time) (int, error)
}

// Polls persists poll documents. UpdatePoll replaces the whole document.
type Polls interface {
	// CreatePoll stores p, assigning p.ID when empty.
	CreatePoll(ctx context.Context, p *types.Poll) error
	GetPoll(ctx context.Context, id string) (*types.Poll, error)
	UpdatePoll(ctx context.Context, p *types.Poll) error
	DeletePoll(ctx context.Context, id string) error

	// ListPolls returns every poll, newest first.
	ListPolls(ctx context.Context) ([]*types.Poll, error)
}

// Store is the full persistence collaborator of the hub.
type Store interface {
	Users
	Messages
	Polls

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close(ctx context.Context) error
}

// ClampLimit applies DefaultPageSize and MaxPageSize to a requested limit.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}
