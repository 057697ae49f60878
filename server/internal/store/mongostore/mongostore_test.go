package mongostore

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/collabhub/collabhub/pkg/types"
)

// openTest connects to the server named by COLLABHUB_TEST_MONGO_URI in a
// throwaway database, or skips.
func openTest(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("COLLABHUB_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("COLLABHUB_TEST_MONGO_URI not set")
	}
	ctx := context.Background()
	db := "collabhub_test_" + uuid.NewString()[:8]
	s, err := Open(ctx, Config{URI: uri, Database: db, ConnectTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		_ = s.client.Database(db).Drop(context.Background())
		_ = s.Close(context.Background())
	})
	return s
}

func TestMongo_UserRoundTrip(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	u := &types.User{ID: "u1", Username: "ana", IsActive: true, Status: types.StatusOnline, CurrentConnectionID: "c1"}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	u.Status = types.StatusAway
	if err := s.UpdateUser(ctx, u); err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	got, err := s.FindUser(ctx, "u1")
	if err != nil {
		t.Fatalf("FindUser: %v", err)
	}
	if got.Status != types.StatusAway {
		t.Errorf("Status: got %q, want away", got.Status)
	}

	c, err := s.CountUsers(ctx)
	if err != nil {
		t.Fatalf("CountUsers: %v", err)
	}
	if c.Total != 1 || c.Active != 1 || c.Away != 1 {
		t.Errorf("CountUsers: got %+v", c)
	}

	if _, err := s.FindUser(ctx, "missing"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("FindUser(missing): got %v, want ErrNotFound", err)
	}
}

func TestMongo_ResetPresence(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	for _, u := range []*types.User{
		{ID: "u1", Username: "ana", IsActive: true, Status: types.StatusOnline, CurrentConnectionID: "c1"},
		{ID: "u2", Username: "ben", Status: types.StatusOffline},
	} {
		if err := s.CreateUser(ctx, u); err != nil {
			t.Fatalf("CreateUser(%s): %v", u.ID, err)
		}
	}
	n, err := s.ResetPresence(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("ResetPresence: %v", err)
	}
	if n != 1 {
		t.Errorf("ResetPresence: got %d, want 1", n)
	}
	got, err := s.FindUser(ctx, "u1")
	if err != nil {
		t.Fatalf("FindUser: %v", err)
	}
	if got.IsActive || got.Status != types.StatusOffline || got.CurrentConnectionID != "" {
		t.Errorf("FindUser(u1): got %+v", got)
	}
}

func TestMongo_MessagesAndPurge(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	a := &types.Message{SenderID: "u1", Content: "a", Type: types.MessageText, CreatedAt: base.Add(-time.Minute)}
	b := &types.Message{SenderID: "u1", Content: "b", Type: types.MessageSystem, CreatedAt: base}
	for _, m := range []*types.Message{a, b} {
		if err := s.CreateMessage(ctx, m); err != nil {
			t.Fatalf("CreateMessage: %v", err)
		}
	}

	list, err := s.ListMessages(ctx, time.Time{}, 10)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(list) != 2 || list[0].ID != b.ID {
		t.Fatalf("ListMessages: got %d messages, want b first", len(list))
	}

	if err := s.SoftDeleteMessage(ctx, a.ID, base.Add(-48*time.Hour)); err != nil {
		t.Fatalf("SoftDeleteMessage: %v", err)
	}
	byType, err := s.CountByType(ctx)
	if err != nil {
		t.Fatalf("CountByType: %v", err)
	}
	if byType[types.MessageText] != 0 || byType[types.MessageSystem] != 1 {
		t.Errorf("CountByType: got %v", byType)
	}

	n, err := s.PurgeDeleted(ctx, base.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PurgeDeleted: %v", err)
	}
	if n != 1 {
		t.Errorf("PurgeDeleted: got %d, want 1", n)
	}
}

func TestMongo_PollReplace(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	p := &types.Poll{
		Question:  "q",
		Options:   []types.Option{{ID: types.OptionID(0), Text: "a"}, {ID: types.OptionID(1), Text: "b"}},
		Status:    types.PollActive,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.CreatePoll(ctx, p); err != nil {
		t.Fatalf("CreatePoll: %v", err)
	}
	p.Options[1].Voters = []types.Voter{{UserID: "u1", VotedAt: time.Now().UTC()}}
	p.Recount()
	if err := s.UpdatePoll(ctx, p); err != nil {
		t.Fatalf("UpdatePoll: %v", err)
	}

	got, err := s.GetPoll(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPoll: %v", err)
	}
	if got.TotalVotes != 1 || !got.Options[1].HasVoter("u1") {
		t.Errorf("GetPoll: got total %d, want 1 with voter u1", got.TotalVotes)
	}

	if err := s.DeletePoll(ctx, p.ID); err != nil {
		t.Fatalf("DeletePoll: %v", err)
	}
	if _, err := s.GetPoll(ctx, p.ID); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("GetPoll after delete: got %v, want ErrNotFound", err)
	}
}
