package chat

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/collabhub/collabhub/pkg/types"
	"github.com/collabhub/collabhub/server/internal/keylock"
	"github.com/collabhub/collabhub/server/internal/store"
)

// Typing is the ephemeral typing indicator relayed to other clients.
type Typing struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

// Counts summarises the non-deleted chat log.
type Counts struct {
	Total    int                       `json:"total"`
	LastHour int                       `json:"lastHour"`
	ByType   map[types.MessageType]int `json:"byType"`
}

// Channel is the single writer of chat messages.
type Channel struct {
	messages   store.Messages
	hardDelete bool

	senders keylock.Map // sends, per sender
	edits   keylock.Map // edit and delete, per message

	now func() time.Time
}

// New returns a Channel over messages. With hardDelete, Delete removes the
// message instead of marking it deleted.
func New(messages store.Messages, hardDelete bool) *Channel {
	return &Channel{messages: messages, hardDelete: hardDelete, now: time.Now}
}

func validateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: content must not be empty", types.ErrValidation)
	}
	if n := utf8.RuneCountInString(content); n > types.MaxContentLength {
		return fmt.Errorf("%w: content is %d characters, limit is %d", types.ErrValidation, n, types.MaxContentLength)
	}
	return nil
}

// Send validates and persists a new message, then calls commit with it.
// Sends from one sender are serialized, so commit sees them in submission
// order. An empty typ defaults to text.
func (c *Channel) Send(ctx context.Context, senderID, senderName, content string, typ types.MessageType, commit func(*types.Message)) (*types.Message, error) {
	if typ == "" {
		typ = types.MessageText
	}
	switch {
	case senderID == "":
		return nil, fmt.Errorf("%w: sender is required", types.ErrValidation)
	case strings.TrimSpace(senderName) == "":
		return nil, fmt.Errorf("%w: senderName is required", types.ErrValidation)
	case !typ.Valid():
		return nil, fmt.Errorf("%w: messageType %q is not one of text|system|notification|announcement", types.ErrValidation, typ)
	}
	if err := validateContent(content); err != nil {
		return nil, err
	}

	unlock := c.senders.Lock(senderID)
	defer unlock()

	m := &types.Message{
		SenderID:   senderID,
		SenderName: senderName,
		Content:    content,
		Type:       typ,
		CreatedAt:  c.now().UTC(),
	}
	if err := c.messages.CreateMessage(ctx, m); err != nil {
		return nil, fmt.Errorf("chat: send: %w", err)
	}
	if commit != nil {
		commit(m)
	}
	return m, nil
}

// Edit replaces the content of messageID. Only the original sender may edit;
// a deleted message is reported as not found.
func (c *Channel) Edit(ctx context.Context, messageID, content, requesterID string, commit func(*types.Message)) (*types.Message, error) {
	if messageID == "" {
		return nil, fmt.Errorf("%w: messageId is required", types.ErrValidation)
	}
	if err := validateContent(content); err != nil {
		return nil, err
	}

	unlock := c.edits.Lock(messageID)
	defer unlock()

	m, err := c.owned(ctx, messageID, requesterID)
	if err != nil {
		return nil, err
	}

	now := c.now().UTC()
	m.Content = content
	m.IsEdited = true
	m.EditedAt = &now
	if err := c.messages.UpdateMessage(ctx, m); err != nil {
		return nil, fmt.Errorf("chat: edit: %w", err)
	}
	if commit != nil {
		commit(m)
	}
	return m, nil
}

// Delete removes messageID on behalf of requesterID, softly or for good
// depending on the channel's policy. commit receives only the id.
func (c *Channel) Delete(ctx context.Context, messageID, requesterID string, commit func(id string)) error {
	if messageID == "" {
		return fmt.Errorf("%w: messageId is required", types.ErrValidation)
	}

	unlock := c.edits.Lock(messageID)
	defer unlock()

	if _, err := c.owned(ctx, messageID, requesterID); err != nil {
		return err
	}

	var err error
	if c.hardDelete {
		err = c.messages.DeleteMessage(ctx, messageID)
	} else {
		err = c.messages.SoftDeleteMessage(ctx, messageID, c.now().UTC())
	}
	if err != nil {
		return fmt.Errorf("chat: delete: %w", err)
	}
	if commit != nil {
		commit(messageID)
	}
	return nil
}

// owned loads a live message and checks requesterID sent it.
func (c *Channel) owned(ctx context.Context, messageID, requesterID string) (*types.Message, error) {
	m, err := c.messages.GetMessage(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("chat: %w", err)
	}
	if m.IsDeleted {
		return nil, fmt.Errorf("chat: message %q: %w", messageID, types.ErrNotFound)
	}
	if requesterID == "" || m.SenderID != requesterID {
		return nil, fmt.Errorf("%w: only the sender may change message %q", types.ErrForbidden, messageID)
	}
	return m, nil
}

// Typing validates a typing indicator. Nothing is persisted.
func (c *Channel) Typing(userID, username string, isTyping bool) (Typing, error) {
	if userID == "" {
		return Typing{}, fmt.Errorf("%w: typing requires a joined user", types.ErrForbidden)
	}
	if strings.TrimSpace(username) == "" {
		return Typing{}, fmt.Errorf("%w: username is required", types.ErrValidation)
	}
	return Typing{UserID: userID, Username: username, IsTyping: isTyping}, nil
}

// History returns a page of non-deleted messages created before before,
// newest first.
func (c *Channel) History(ctx context.Context, before time.Time, limit int) ([]*types.Message, error) {
	ms, err := c.messages.ListMessages(ctx, before, store.ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("chat: history: %w", err)
	}
	return ms, nil
}

// Counts returns totals of non-deleted messages, overall, per type and in
// the last hour.
func (c *Channel) Counts(ctx context.Context) (Counts, error) {
	byType, err := c.messages.CountByType(ctx)
	if err != nil {
		return Counts{}, fmt.Errorf("chat: count by type: %w", err)
	}
	lastHour, err := c.messages.CountSince(ctx, c.now().Add(-time.Hour))
	if err != nil {
		return Counts{}, fmt.Errorf("chat: count last hour: %w", err)
	}

	out := Counts{LastHour: lastHour, ByType: make(map[types.MessageType]int, len(types.MessageTypes))}
	for _, t := range types.MessageTypes {
		out.ByType[t] = byType[t]
		out.Total += byType[t]
	}
	return out, nil
}
