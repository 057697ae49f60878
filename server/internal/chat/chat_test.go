package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/collabhub/collabhub/pkg/types"
	"github.com/collabhub/collabhub/server/internal/store"
)

func newTestChannel(t *testing.T, hard bool) (*Channel, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	c := New(mem, hard)
	c.now = func() time.Time { return time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC) }
	return c, mem
}

func TestSend(t *testing.T) {
	c, mem := newTestChannel(t, false)
	ctx := context.Background()

	var got *types.Message
	m, err := c.Send(ctx, "u1", "Ana", "hello", "", func(m *types.Message) { got = m })
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got == nil || got.ID != m.ID {
		t.Fatal("Send: commit not called with the stored message")
	}
	if m.Type != types.MessageText {
		t.Errorf("Type: got %q, want text", m.Type)
	}

	stored, err := mem.GetMessage(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if stored.SenderName != "Ana" || stored.Content != "hello" {
		t.Errorf("stored: got %+v", stored)
	}
}

func TestSend_Validation(t *testing.T) {
	c, mem := newTestChannel(t, false)
	tests := []struct {
		name, sender, senderName, content string
		typ                               types.MessageType
	}{
		{"empty content", "u1", "Ana", "", types.MessageText},
		{"whitespace content", "u1", "Ana", "  \n", types.MessageText},
		{"too long", "u1", "Ana", strings.Repeat("x", types.MaxContentLength+1), types.MessageText},
		{"bad type", "u1", "Ana", "hi", "shout"},
		{"no sender", "", "Ana", "hi", types.MessageText},
		{"no sender name", "u1", "", "hi", types.MessageText},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Send(context.Background(), tc.sender, tc.senderName, tc.content, tc.typ, func(*types.Message) {
				t.Error("commit called on rejected send")
			})
			if !errors.Is(err, types.ErrValidation) {
				t.Fatalf("got %v, want ErrValidation", err)
			}
		})
	}

	byType, _ := mem.CountByType(context.Background())
	if len(byType) != 0 {
		t.Errorf("rejected sends were stored: %v", byType)
	}
}

func TestSend_MaxLengthAccepted(t *testing.T) {
	c, _ := newTestChannel(t, false)
	content := strings.Repeat("é", types.MaxContentLength)
	if _, err := c.Send(context.Background(), "u1", "Ana", content, types.MessageText, nil); err != nil {
		t.Fatalf("Send with %d characters: %v", types.MaxContentLength, err)
	}
}

func TestEdit(t *testing.T) {
	c, _ := newTestChannel(t, false)
	ctx := context.Background()
	m, _ := c.Send(ctx, "u1", "Ana", "helo", types.MessageText, nil)

	edited, err := c.Edit(ctx, m.ID, "hello", "u1", nil)
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if !edited.IsEdited || edited.EditedAt == nil || edited.Content != "hello" {
		t.Errorf("Edit: got %+v", edited)
	}
	if edited.SenderName != "Ana" {
		t.Errorf("SenderName: got %q, want Ana", edited.SenderName)
	}
}

func TestEditDelete_NonSenderForbidden(t *testing.T) {
	c, mem := newTestChannel(t, false)
	ctx := context.Background()
	m, _ := c.Send(ctx, "u1", "Ana", "mine", types.MessageText, nil)

	_, err := c.Edit(ctx, m.ID, "hijacked", "u2", func(*types.Message) {
		t.Error("commit called on forbidden edit")
	})
	if !errors.Is(err, types.ErrForbidden) {
		t.Errorf("Edit by non-sender: got %v, want ErrForbidden", err)
	}

	err = c.Delete(ctx, m.ID, "u2", func(string) {
		t.Error("commit called on forbidden delete")
	})
	if !errors.Is(err, types.ErrForbidden) {
		t.Errorf("Delete by non-sender: got %v, want ErrForbidden", err)
	}

	err = c.Delete(ctx, m.ID, "", nil)
	if !errors.Is(err, types.ErrForbidden) {
		t.Errorf("Delete without requester: got %v, want ErrForbidden", err)
	}

	stored, _ := mem.GetMessage(ctx, m.ID)
	if stored.Content != "mine" || stored.IsEdited || stored.IsDeleted {
		t.Errorf("state changed after forbidden requests: %+v", stored)
	}
}

func TestEdit_Missing(t *testing.T) {
	c, _ := newTestChannel(t, false)
	_, err := c.Edit(context.Background(), "nope", "x", "u1", nil)
	if !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("Edit(missing): got %v, want ErrNotFound", err)
	}
}

func TestDelete_Soft(t *testing.T) {
	c, mem := newTestChannel(t, false)
	ctx := context.Background()
	m, _ := c.Send(ctx, "u1", "Ana", "bye", types.MessageText, nil)

	var gotID string
	if err := c.Delete(ctx, m.ID, "u1", func(id string) { gotID = id }); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if gotID != m.ID {
		t.Errorf("commit id: got %q, want %q", gotID, m.ID)
	}

	stored, err := mem.GetMessage(ctx, m.ID)
	if err != nil {
		t.Fatalf("soft-deleted message should remain stored: %v", err)
	}
	if !stored.IsDeleted {
		t.Error("IsDeleted: got false, want true")
	}

	hist, _ := c.History(ctx, time.Time{}, 0)
	if len(hist) != 0 {
		t.Errorf("History: got %d, want deleted message hidden", len(hist))
	}

	if _, err := c.Edit(ctx, m.ID, "again", "u1", nil); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("Edit after delete: got %v, want ErrNotFound", err)
	}
	if err := c.Delete(ctx, m.ID, "u1", nil); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("Delete twice: got %v, want ErrNotFound", err)
	}
}

func TestDelete_Hard(t *testing.T) {
	c, mem := newTestChannel(t, true)
	ctx := context.Background()
	m, _ := c.Send(ctx, "u1", "Ana", "bye", types.MessageText, nil)

	if err := c.Delete(ctx, m.ID, "u1", nil); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := mem.GetMessage(ctx, m.ID); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("GetMessage after hard delete: got %v, want ErrNotFound", err)
	}
}

func TestTyping(t *testing.T) {
	c, _ := newTestChannel(t, false)

	ev, err := c.Typing("u1", "Ana", true)
	if err != nil {
		t.Fatalf("Typing: %v", err)
	}
	if ev != (Typing{UserID: "u1", Username: "Ana", IsTyping: true}) {
		t.Errorf("Typing: got %+v", ev)
	}
	if _, err := c.Typing("", "Ana", true); !errors.Is(err, types.ErrForbidden) {
		t.Errorf("Typing without user: got %v, want ErrForbidden", err)
	}
	if _, err := c.Typing("u1", "", false); !errors.Is(err, types.ErrValidation) {
		t.Errorf("Typing without name: got %v, want ErrValidation", err)
	}
}

func TestCounts(t *testing.T) {
	c, _ := newTestChannel(t, false)
	ctx := context.Background()
	_, _ = c.Send(ctx, "u1", "Ana", "a", types.MessageText, nil)
	_, _ = c.Send(ctx, "u1", "Ana", "b", types.MessageAnnouncement, nil)
	m, _ := c.Send(ctx, "u1", "Ana", "c", types.MessageText, nil)
	_ = c.Delete(ctx, m.ID, "u1", nil)

	got, err := c.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if got.Total != 2 || got.LastHour != 2 {
		t.Errorf("Counts: got total %d lastHour %d, want 2 and 2", got.Total, got.LastHour)
	}
	if got.ByType[types.MessageText] != 1 || got.ByType[types.MessageAnnouncement] != 1 {
		t.Errorf("ByType: got %v", got.ByType)
	}
	if _, ok := got.ByType[types.MessageSystem]; !ok {
		t.Error("ByType: every type should be present, system missing")
	}
}

func TestSend_PerSenderOrder(t *testing.T) {
	c, _ := newTestChannel(t, false)
	c.now = time.Now
	ctx := context.Background()

	var (
		mu    sync.Mutex
		order = map[string][]string{}
		wg    sync.WaitGroup
	)
	commit := func(m *types.Message) {
		mu.Lock()
		order[m.SenderID] = append(order[m.SenderID], m.Content)
		mu.Unlock()
	}

	for _, sender := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(sender string) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				if _, err := c.Send(ctx, sender, sender, fmt.Sprint(i), types.MessageText, commit); err != nil {
					t.Errorf("Send: %v", err)
				}
			}
		}(sender)
	}
	wg.Wait()

	for sender, got := range order {
		for i, content := range got {
			if content != fmt.Sprint(i) {
				t.Fatalf("sender %s: message %d committed as %q", sender, i, content)
			}
		}
	}
}
