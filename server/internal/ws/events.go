package ws

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/collabhub/collabhub/pkg/types"
)

// Inbound event names.
const (
	evJoin           = "user:join"
	evStatus         = "user:status"
	evSend           = "message:send"
	evEdit           = "message:edit"
	evDelete         = "message:delete"
	evTyping         = "message:typing"
	evPollCreate     = "poll:create"
	evPollVote       = "poll:vote"
	evPollRemoveVote = "poll:removeVote"
	evPollClose      = "poll:close"
	evPollDelete     = "poll:delete"
	evGetStats       = "dashboard:getStats"
)

// Outbound event names.
const (
	EventUserJoined     = "user:joined"
	EventUserLeft       = "user:left"
	EventStatusChanged  = "user:statusChanged"
	EventUsersList      = "users:list"
	EventAuthenticated  = "user:authenticated"
	EventMessageNew     = "message:new"
	EventMessageUpdated = "message:updated"
	EventMessageDeleted = "message:deleted"
	EventUserTyping     = "message:userTyping"
	EventPollNew        = "poll:new"
	EventPollUpdated    = "poll:updated"
	EventPollDeleted    = "poll:deleted"
	EventStats          = "dashboard:stats"
	EventStatsUpdate    = "dashboard:statsUpdate"
	EventError          = "error"
)

// Message is the JSON envelope of every frame in both directions.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// outbound is the envelope the hub writes.
type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// ErrorPayload is the body of an error event. Event names the inbound event
// that failed, when it could be decoded.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Event   string `json:"event,omitempty"`
}

// MessageDeleted is the body of message:deleted.
type MessageDeleted struct {
	MessageID string `json:"messageId"`
}

// PollDeleted is the body of poll:deleted.
type PollDeleted struct {
	PollID string `json:"pollId"`
}

// inbound is one decoded client event. Each event name has its own type and
// Hub.dispatch switches over them.
type inbound interface {
	name() string
}

type joinEvent struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type statusEvent struct {
	UserID string           `json:"userId"`
	Status types.UserStatus `json:"status"`
}

type sendEvent struct {
	Sender      string            `json:"sender"`
	SenderName  string            `json:"senderName"`
	Content     string            `json:"content"`
	MessageType types.MessageType `json:"messageType"`
}

type editEvent struct {
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
}

type deleteEvent struct {
	MessageID string `json:"messageId"`
}

type typingEvent struct {
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

type pollCreateEvent struct {
	Question           string         `json:"question"`
	Description        string         `json:"description"`
	Options            []string       `json:"options"`
	CreatedBy          string         `json:"createdBy"`
	AllowMultipleVotes *bool          `json:"allowMultipleVotes"`
	PollType           types.PollType `json:"pollType"`
	ExpiresAt          *time.Time     `json:"expiresAt"`
}

type voteEvent struct {
	PollID   string `json:"pollId"`
	UserID   string `json:"userId"`
	OptionID string `json:"optionId"`
}

type removeVoteEvent struct {
	PollID   string `json:"pollId"`
	UserID   string `json:"userId"`
	OptionID string `json:"optionId"`
}

type pollCloseEvent struct {
	PollID string `json:"pollId"`
}

type pollDeleteEvent struct {
	PollID string `json:"pollId"`
}

type getStatsEvent struct{}

func (*joinEvent) name() string       { return evJoin }
func (*statusEvent) name() string     { return evStatus }
func (*sendEvent) name() string       { return evSend }
func (*editEvent) name() string       { return evEdit }
func (*deleteEvent) name() string     { return evDelete }
func (*typingEvent) name() string     { return evTyping }
func (*pollCreateEvent) name() string { return evPollCreate }
func (*voteEvent) name() string       { return evPollVote }
func (*removeVoteEvent) name() string { return evPollRemoveVote }
func (*pollCloseEvent) name() string  { return evPollClose }
func (*pollDeleteEvent) name() string { return evPollDelete }
func (*getStatsEvent) name() string   { return evGetStats }

// newInbound returns an empty event for name, or nil if name is unknown.
func newInbound(name string) inbound {
	switch name {
	case evJoin:
		return &joinEvent{}
	case evStatus:
		return &statusEvent{}
	case evSend:
		return &sendEvent{}
	case evEdit:
		return &editEvent{}
	case evDelete:
		return &deleteEvent{}
	case evTyping:
		return &typingEvent{}
	case evPollCreate:
		return &pollCreateEvent{}
	case evPollVote:
		return &voteEvent{}
	case evPollRemoveVote:
		return &removeVoteEvent{}
	case evPollClose:
		return &pollCloseEvent{}
	case evPollDelete:
		return &pollDeleteEvent{}
	case evGetStats:
		return &getStatsEvent{}
	}
	return nil
}

// decode parses one inbound frame. The returned name is the envelope's event
// name, set whenever the envelope itself parsed, so errors can be attributed.
func decode(raw []byte) (inbound, string, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, "", fmt.Errorf("%w: malformed frame: %v", types.ErrValidation, err)
	}
	if m.Event == "" {
		return nil, "", fmt.Errorf("%w: frame has no event name", types.ErrValidation)
	}
	ev := newInbound(m.Event)
	if ev == nil {
		return nil, m.Event, fmt.Errorf("%w: unknown event %q", types.ErrValidation, m.Event)
	}
	if len(m.Data) > 0 && !bytes.Equal(m.Data, []byte("null")) {
		if err := json.Unmarshal(m.Data, ev); err != nil {
			return nil, m.Event, fmt.Errorf("%w: %s payload: %v", types.ErrValidation, m.Event, err)
		}
	}
	return ev, m.Event, nil
}
