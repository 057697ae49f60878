package store

import (
	"context"
	"time"

	"github.com/collabhub/collabhub/pkg/types"
)

// timeoutStore bounds every call of the wrapped Store.
type timeoutStore struct {
	next Store
	d    time.Duration
}

// WithTimeout returns a Store whose calls each run under a deadline of d and
// whose errors are classified with MapErr.
func WithTimeout(s Store, d time.Duration) Store {
	return &timeoutStore{next: s, d: d}
}

func (t *timeoutStore) ctx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, t.d)
}

func (t *timeoutStore) FindUser(ctx context.Context, id string) (*types.User, error) {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	u, err := t.next.FindUser(ctx, id)
	return u, MapErr(err)
}

func (t *timeoutStore) CreateUser(ctx context.Context, u *types.User) error {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	return MapErr(t.next.CreateUser(ctx, u))
}

func (t *timeoutStore) UpdateUser(ctx context.Context, u *types.User) error {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	return MapErr(t.next.UpdateUser(ctx, u))
}

func (t *timeoutStore) ListActiveUsers(ctx context.Context) ([]*types.User, error) {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	us, err := t.next.ListActiveUsers(ctx)
	return us, MapErr(err)
}

func (t *timeoutStore) ResetPresence(ctx context.Context, at time.Time) (int, error) {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	n, err := t.next.ResetPresence(ctx, at)
	return n, MapErr(err)
}

func (t *timeoutStore) CountUsers(ctx context.Context) (UserCounts, error) {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	c, err := t.next.CountUsers(ctx)
	return c, MapErr(err)
}

func (t *timeoutStore) CreateMessage(ctx context.Context, m *types.Message) error {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	return MapErr(t.next.CreateMessage(ctx, m))
}

func (t *timeoutStore) GetMessage(ctx context.Context, id string) (*types.Message, error) {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	m, err := t.next.GetMessage(ctx, id)
	return m, MapErr(err)
}

func (t *timeoutStore) UpdateMessage(ctx context.Context, m *types.Message) error {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	return MapErr(t.next.UpdateMessage(ctx, m))
}

func (t *timeoutStore) SoftDeleteMessage(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	return MapErr(t.next.SoftDeleteMessage(ctx, id, at))
}

func (t *timeoutStore) DeleteMessage(ctx context.Context, id string) error {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	return MapErr(t.next.DeleteMessage(ctx, id))
}

func (t *timeoutStore) ListMessages(ctx context.Context, before time.Time, limit int) ([]*types.Message, error) {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	ms, err := t.next.ListMessages(ctx, before, limit)
	return ms, MapErr(err)
}

func (t *timeoutStore) CountByType(ctx context.Context) (map[types.MessageType]int, error) {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	c, err := t.next.CountByType(ctx)
	return c, MapErr(err)
}

func (t *timeoutStore) CountSince(ctx context.Context, since time.Time) (int, error) {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	n, err := t.next.CountSince(ctx, since)
	return n, MapErr(err)
}

func (t *timeoutStore) PurgeDeleted(ctx context.Context, olderThan time.Time) (int, error) {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	n, err := t.next.PurgeDeleted(ctx, olderThan)
	return n, MapErr(err)
}

func (t *timeoutStore) CreatePoll(ctx context.Context, p *types.Poll) error {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	return MapErr(t.next.CreatePoll(ctx, p))
}

func (t *timeoutStore) GetPoll(ctx context.Context, id string) (*types.Poll, error) {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	p, err := t.next.GetPoll(ctx, id)
	return p, MapErr(err)
}

func (t *timeoutStore) UpdatePoll(ctx context.Context, p *types.Poll) error {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	return MapErr(t.next.UpdatePoll(ctx, p))
}

func (t *timeoutStore) DeletePoll(ctx context.Context, id string) error {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	return MapErr(t.next.DeletePoll(ctx, id))
}

func (t *timeoutStore) ListPolls(ctx context.Context) ([]*types.Poll, error) {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	ps, err := t.next.ListPolls(ctx)
	return ps, MapErr(err)
}

func (t *timeoutStore) Ping(ctx context.Context) error {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	return MapErr(t.next.Ping(ctx))
}

func (t *timeoutStore) Close(ctx context.Context) error {
	return t.next.Close(ctx)
}
