// Package presence owns the liveness fields of users: who is connected, on
// which connection, and with what status. It is the only writer of those
// fields. Mutations of one user are serialized; different users proceed
// concurrently.
package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/collabhub/collabhub/pkg/types"
	"github.com/collabhub/collabhub/server/internal/keylock"
	"github.com/collabhub/collabhub/server/internal/store"
)

// MaxUsernameLength is the longest display name accepted on join.
const MaxUsernameLength = 100

// Store tracks user presence on top of a persistent user collection.
type Store struct {
	users store.Users
	locks keylock.Map
	now   func() time.Time
}

// New returns a Store backed by users.
func New(users store.Users) *Store {
	return &Store{users: users, now: time.Now}
}

// Join marks userID active on connID, creating the user on first join. The
// display name is refreshed on every join. commit, when non-nil, runs with the
// updated user while the user is still locked, so events for one user leave
// in the order they were applied.
//
// If the persistence write fails the user is left as it was and the error is
// returned; callers must not bind the connection in that case.
func (s *Store) Join(ctx context.Context, userID, username, connID string, commit func(*types.User)) (*types.User, error) {
	userID = strings.TrimSpace(userID)
	username = strings.TrimSpace(username)
	switch {
	case userID == "":
		return nil, fmt.Errorf("%w: userId is required", types.ErrValidation)
	case username == "":
		return nil, fmt.Errorf("%w: username is required", types.ErrValidation)
	case utf8.RuneCountInString(username) > MaxUsernameLength:
		return nil, fmt.Errorf("%w: username exceeds %d characters", types.ErrValidation, MaxUsernameLength)
	case connID == "":
		return nil, fmt.Errorf("%w: connection id is required", types.ErrValidation)
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	now := s.now().UTC()
	u, err := s.users.FindUser(ctx, userID)
	switch {
	case errors.Is(err, types.ErrNotFound):
		u = &types.User{
			ID:                  userID,
			Username:            username,
			IsActive:            true,
			Status:              types.StatusOnline,
			LastActive:          now,
			CurrentConnectionID: connID,
			CreatedAt:           now,
		}
		if err := s.users.CreateUser(ctx, u); err != nil {
			return nil, fmt.Errorf("presence: join: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("presence: join: %w", err)
	default:
		if u.IsActive && u.CurrentConnectionID != connID {
			slog.Info("presence: user rebound to a new connection",
				"user_id", userID, "previous", u.CurrentConnectionID, "connection", connID)
		}
		u.Username = username
		u.IsActive = true
		u.Status = types.StatusOnline
		u.LastActive = now
		u.CurrentConnectionID = connID
		if err := s.users.UpdateUser(ctx, u); err != nil {
			return nil, fmt.Errorf("presence: join: %w", err)
		}
	}

	if commit != nil {
		commit(u)
	}
	return u, nil
}

// Leave marks userID offline if connID is still its current connection.
// It returns nil, nil when the user has since joined from another connection:
// the newer connection keeps the user online.
func (s *Store) Leave(ctx context.Context, userID, connID string, commit func(*types.User)) (*types.User, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	u, err := s.users.FindUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("presence: leave: %w", err)
	}
	if u.CurrentConnectionID != connID {
		return nil, nil
	}

	u.IsActive = false
	u.Status = types.StatusOffline
	u.CurrentConnectionID = ""
	u.LastActive = s.now().UTC()
	if err := s.users.UpdateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("presence: leave: %w", err)
	}

	if commit != nil {
		commit(u)
	}
	return u, nil
}

// SetStatus changes the status of userID on behalf of connID. Only the
// connection the user is currently bound to may do so. Setting offline also
// clears IsActive; online or away on a bound user sets it again.
func (s *Store) SetStatus(ctx context.Context, userID, connID string, status types.UserStatus, commit func(*types.User)) (*types.User, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: status %q is not one of online|away|offline", types.ErrValidation, status)
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	u, err := s.users.FindUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("presence: set status: %w", err)
	}
	if u.CurrentConnectionID == "" || u.CurrentConnectionID != connID {
		return nil, fmt.Errorf("%w: user %q is not bound to this connection", types.ErrForbidden, userID)
	}

	u.Status = status
	u.IsActive = status != types.StatusOffline
	u.LastActive = s.now().UTC()
	if err := s.users.UpdateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("presence: set status: %w", err)
	}

	if commit != nil {
		commit(u)
	}
	return u, nil
}

// Reset marks every persisted user offline. It runs once at startup, before
// any connection is accepted: a fresh process has no sessions, so whatever a
// previous process left active is stale.
func (s *Store) Reset(ctx context.Context) (int, error) {
	n, err := s.users.ResetPresence(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("presence: reset: %w", err)
	}
	if n > 0 {
		slog.Info("presence: cleared stale sessions", "users", n)
	}
	return n, nil
}

// ActiveUsers returns the users currently online or away.
func (s *Store) ActiveUsers(ctx context.Context) ([]*types.User, error) {
	us, err := s.users.ListActiveUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("presence: list active users: %w", err)
	}
	return us, nil
}

// Counts summarises presence across all known users.
func (s *Store) Counts(ctx context.Context) (store.UserCounts, error) {
	c, err := s.users.CountUsers(ctx)
	if err != nil {
		return store.UserCounts{}, fmt.Errorf("presence: count users: %w", err)
	}
	return c, nil
}

// Public projects users for clients.
func Public(us []*types.User) []types.PublicUser {
	out := make([]types.PublicUser, 0, len(us))
	for _, u := range us {
		out = append(out, u.Public())
	}
	return out
}
