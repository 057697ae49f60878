package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/collabhub/collabhub/pkg/types"
	"github.com/collabhub/collabhub/server/internal/chat"
	"github.com/collabhub/collabhub/server/internal/config"
	"github.com/collabhub/collabhub/server/internal/metrics"
	"github.com/collabhub/collabhub/server/internal/polls"
	"github.com/collabhub/collabhub/server/internal/presence"
	"github.com/collabhub/collabhub/server/internal/stats"
)

// errInternal is reported to a client whose event handler panicked.
var errInternal = errors.New("internal error")

// Deps are the stores the hub routes events to.
type Deps struct {
	Presence *presence.Store
	Chat     *chat.Channel
	Polls    *polls.Engine
	Stats    *stats.Aggregator

	// Metrics may be nil; New then creates a private registry.
	Metrics *metrics.Registry
}

// Hub owns the live sessions of one collaboration room. It is the only
// component that writes to clients.
type Hub struct {
	presence *presence.Store
	chat     *chat.Channel
	polls    *polls.Engine
	stats    *stats.Aggregator
	metrics  *metrics.Registry

	upgrader       websocket.Upgrader
	sendBuffer     int
	maxFrameBytes  int64
	maxConnections int
	drainTimeout   time.Duration

	rateMu sync.RWMutex
	rate   config.RateLimitConfig

	sessions *registry
}

// New creates a Hub from deps and the hub section of the configuration.
func New(deps Deps, cfg config.HubConfig) *Hub {
	h := &Hub{
		presence:       deps.Presence,
		chat:           deps.Chat,
		polls:          deps.Polls,
		stats:          deps.Stats,
		metrics:        deps.Metrics,
		sendBuffer:     cfg.SendBuffer,
		maxFrameBytes:  cfg.MaxFrameBytes,
		maxConnections: cfg.MaxConnections,
		drainTimeout:   cfg.DrainTimeout,
		rate:           cfg.RateLimit,
		sessions:       newRegistry(),
	}
	if h.sendBuffer <= 0 {
		h.sendBuffer = config.DefaultSendBuffer
	}
	if h.maxFrameBytes <= 0 {
		h.maxFrameBytes = config.DefaultMaxFrameBytes
	}
	if h.drainTimeout <= 0 {
		h.drainTimeout = config.DefaultDrainTimeout
	}
	if h.metrics == nil {
		h.metrics = metrics.New(nil)
	}
	h.metrics.SetConnections(h.Count)

	origins := newOriginPolicy(cfg.AllowedOrigins)
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     origins.check,
	}
	return h
}

// Run pushes dashboard:statsUpdate to every client on the aggregator's
// interval. Run blocks until ctx is cancelled, then closes all sessions and
// waits, up to the drain timeout, for their users to be recorded offline.
func (h *Hub) Run(ctx context.Context) {
	h.stats.Run(ctx, func(p stats.Payload) {
		h.broadcast(EventStatsUpdate, p, nil)
		h.metrics.StatsPublished()
	})
	n := h.Count()
	h.sessions.closeAll()
	if !h.sessions.drain(h.drainTimeout) {
		slog.Warn("hub: sessions still disconnecting after drain timeout",
			"sessions", n, "timeout", h.drainTimeout)
	}
	slog.Info("hub: stopped")
}

// Reconfigure applies the reloadable hub settings: the rate limit and the
// stats interval. Other fields take effect on restart.
func (h *Hub) Reconfigure(cfg config.HubConfig) {
	h.rateMu.Lock()
	h.rate = cfg.RateLimit
	h.rateMu.Unlock()

	h.sessions.each(func(s *session) {
		s.limiter.configure(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval)
	})
	h.stats.SetInterval(cfg.StatsInterval)
	slog.Info("hub: reconfigured",
		"rate_burst", cfg.RateLimit.Burst,
		"rate_refill", cfg.RateLimit.RefillInterval,
		"stats_interval", cfg.StatsInterval)
}

// Count returns the number of live sessions.
func (h *Hub) Count() int {
	return h.sessions.len()
}

// ServeHTTP upgrades the HTTP connection to WebSocket and serves the session
// until it closes. Inbound frames are handled one at a time, in order.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.maxConnections > 0 && h.Count() >= h.maxConnections {
		h.metrics.ConnectionRejected()
		slog.Warn("hub: connection limit reached", "remote", r.RemoteAddr, "limit", h.maxConnections)
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	h.rateMu.RLock()
	rate := h.rate
	h.rateMu.RUnlock()

	s := newSession(conn, h.sendBuffer, newRateLimiter(rate.Burst, rate.RefillInterval))
	if err := h.sessions.add(s, h.maxConnections); err != nil {
		code := websocket.CloseTryAgainLater
		if errors.Is(err, errRegistryClosed) {
			code = websocket.CloseGoingAway
		}
		h.metrics.ConnectionRejected()
		conn.WriteControl(websocket.CloseMessage, //nolint:errcheck
			websocket.FormatCloseMessage(code, err.Error()),
			time.Now().Add(writeTimeout))
		conn.Close()
		return
	}
	defer h.sessions.done() // after disconnect: Run drains on it
	h.metrics.ConnectionOpened()
	slog.Debug("hub: client registered", "connection", s.id, "remote", s.remote)

	// Persistence on disconnect must not be cut short by the request ending.
	ctx := context.WithoutCancel(r.Context())
	defer h.disconnect(ctx, s)

	go s.writePump()
	h.readPump(ctx, s) // blocks until connection closes
}

// readPump reads and handles frames until the connection closes.
func (h *Hub) readPump(ctx context.Context, s *session) {
	defer s.conn.Close()
	s.conn.SetReadLimit(h.maxFrameBytes)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			s.logReadError(err)
			return
		}
		if !s.limiter.allow() {
			h.metrics.RateLimited()
			h.reply(s, EventError, ErrorPayload{Message: "rate limit exceeded", Code: "rate_limited"})
			continue
		}
		h.handle(ctx, s, raw)
	}
}

// disconnect releases s and, if it was bound to a user, marks that user
// offline and tells the remaining clients.
func (h *Hub) disconnect(ctx context.Context, s *session) {
	h.sessions.remove(s)
	userID := s.userID
	s.state = stateDisconnected

	if userID == "" {
		slog.Debug("hub: unauthenticated client disconnected", "connection", s.id)
		return
	}
	_, err := h.presence.Leave(ctx, userID, s.id, func(u *types.User) {
		h.broadcast(EventUserLeft, u.Public(), nil)
	})
	if err != nil {
		slog.Error("hub: leave failed", "connection", s.id, "user_id", userID, "err", err)
		return
	}
	slog.Debug("hub: client disconnected", "connection", s.id, "user_id", userID,
		"connected_for", time.Since(s.joinedAt).Round(time.Millisecond))
}

// handle decodes and dispatches one frame. Failures, panics included, are
// reported to s only.
func (h *Hub) handle(ctx context.Context, s *session, raw []byte) {
	var name string
	defer func() {
		if r := recover(); r != nil {
			slog.Error("hub: handler panic", "event", name, "connection", s.id,
				"panic", r, "stack", string(debug.Stack()))
			h.fail(s, name, errInternal)
		}
	}()

	ev, name, err := decode(raw)
	if err != nil {
		h.fail(s, name, err)
		return
	}
	h.metrics.Event(name)
	if err := h.dispatch(ctx, s, ev); err != nil {
		h.fail(s, name, err)
	}
}

func (h *Hub) dispatch(ctx context.Context, s *session, ev inbound) error {
	switch e := ev.(type) {
	case *joinEvent:
		return h.join(ctx, s, e)
	case *statusEvent:
		return h.setStatus(ctx, s, e)
	case *sendEvent:
		return h.send(ctx, s, e)
	case *editEvent:
		_, err := h.chat.Edit(ctx, e.MessageID, e.Content, s.userID, func(m *types.Message) {
			h.broadcast(EventMessageUpdated, m, nil)
		})
		return err
	case *deleteEvent:
		return h.chat.Delete(ctx, e.MessageID, s.userID, func(id string) {
			h.broadcast(EventMessageDeleted, MessageDeleted{MessageID: id}, nil)
		})
	case *typingEvent:
		return h.typing(s, e)
	case *pollCreateEvent:
		return h.createPoll(ctx, s, e)
	case *voteEvent:
		return h.vote(ctx, s, e.PollID, e.UserID, e.OptionID, h.polls.Vote)
	case *removeVoteEvent:
		return h.vote(ctx, s, e.PollID, e.UserID, e.OptionID, h.polls.RemoveVote)
	case *pollCloseEvent:
		if err := requireJoined(s); err != nil {
			return err
		}
		_, err := h.polls.Close(ctx, e.PollID, h.pollUpdated)
		return err
	case *pollDeleteEvent:
		if err := requireJoined(s); err != nil {
			return err
		}
		return h.polls.Delete(ctx, e.PollID, func(id string) {
			h.broadcast(EventPollDeleted, PollDeleted{PollID: id}, nil)
		})
	case *getStatsEvent:
		p, err := h.stats.Collect(ctx)
		if err != nil {
			return err
		}
		h.reply(s, EventStats, p)
		return nil
	default:
		return fmt.Errorf("%w: unhandled event %q", types.ErrValidation, ev.name())
	}
}

func (h *Hub) join(ctx context.Context, s *session, e *joinEvent) error {
	if s.userID != "" && s.userID != e.UserID {
		return fmt.Errorf("%w: connection already joined as %q", types.ErrForbidden, s.userID)
	}
	u, err := h.presence.Join(ctx, e.UserID, e.Username, s.id, func(u *types.User) {
		h.broadcast(EventUserJoined, u.Public(), nil)
	})
	if err != nil {
		return err
	}
	s.bind(u.ID, u.Username)
	slog.Info("hub: user joined", "connection", s.id, "user_id", u.ID, "username", u.Username)

	h.reply(s, EventAuthenticated, u.Public())

	// The join stands even if the roster cannot be read; the error names
	// users:list so the client can tell it apart from a failed join.
	active, err := h.presence.ActiveUsers(ctx)
	if err != nil {
		h.fail(s, EventUsersList, err)
		return nil
	}
	h.reply(s, EventUsersList, presence.Public(active))
	return nil
}

func (h *Hub) setStatus(ctx context.Context, s *session, e *statusEvent) error {
	if err := requireJoined(s); err != nil {
		return err
	}
	userID := e.UserID
	if userID == "" {
		userID = s.userID
	}
	_, err := h.presence.SetStatus(ctx, userID, s.id, e.Status, func(u *types.User) {
		h.broadcast(EventStatusChanged, u.Public(), nil)
	})
	return err
}

func (h *Hub) send(ctx context.Context, s *session, e *sendEvent) error {
	if err := requireSelf(s, e.Sender); err != nil {
		return err
	}
	_, err := h.chat.Send(ctx, s.userID, s.username, e.Content, e.MessageType, func(m *types.Message) {
		h.broadcast(EventMessageNew, m, nil)
	})
	return err
}

func (h *Hub) typing(s *session, e *typingEvent) error {
	username := e.Username
	if username == "" {
		username = s.username
	}
	t, err := h.chat.Typing(s.userID, username, e.IsTyping)
	if err != nil {
		return err
	}
	h.broadcast(EventUserTyping, t, s)
	return nil
}

func (h *Hub) createPoll(ctx context.Context, s *session, e *pollCreateEvent) error {
	if err := requireSelf(s, e.CreatedBy); err != nil {
		return err
	}
	_, err := h.polls.Create(ctx, polls.CreateRequest{
		Question:           e.Question,
		Description:        e.Description,
		Options:            e.Options,
		CreatedBy:          s.userID,
		CreatorName:        s.username,
		AllowMultipleVotes: e.AllowMultipleVotes,
		PollType:           e.PollType,
		ExpiresAt:          e.ExpiresAt,
	}, func(p *types.Poll) {
		h.broadcast(EventPollNew, p, nil)
	})
	return err
}

type voteFunc func(ctx context.Context, pollID, userID, optionID string, commit func(*types.Poll)) (*types.Poll, error)

func (h *Hub) vote(ctx context.Context, s *session, pollID, userID, optionID string, fn voteFunc) error {
	if err := requireSelf(s, userID); err != nil {
		return err
	}
	_, err := fn(ctx, pollID, s.userID, optionID, h.pollUpdated)
	return err
}

func (h *Hub) pollUpdated(p *types.Poll) {
	h.broadcast(EventPollUpdated, p, nil)
}

// requireJoined rejects events from a connection that has not joined.
func requireJoined(s *session) error {
	if s.userID == "" {
		return fmt.Errorf("%w: join before sending events", types.ErrForbidden)
	}
	return nil
}

// requireSelf rejects a payload that acts for a user other than the one bound
// to s. An empty claimed id means the bound user.
func requireSelf(s *session, claimed string) error {
	if err := requireJoined(s); err != nil {
		return err
	}
	if claimed != "" && claimed != s.userID {
		return fmt.Errorf("%w: connection is joined as %q, not %q", types.ErrForbidden, s.userID, claimed)
	}
	return nil
}

// fail reports err to s as an error event.
func (h *Hub) fail(s *session, event string, err error) {
	code := types.Code(err)
	msg := err.Error()
	if code == "internal" {
		msg = errInternal.Error()
	}
	h.metrics.Error(code)

	attrs := []any{"event", event, "connection", s.id, "user_id", s.userID, "code", code, "err", err}
	if types.IsDomain(err) {
		slog.Warn("hub: event rejected", attrs...)
	} else {
		slog.Error("hub: event failed", attrs...)
	}
	h.reply(s, EventError, ErrorPayload{Message: msg, Code: code, Event: event})
}

// broadcast sends event to every session except exclude, which may be nil.
func (h *Hub) broadcast(event string, data any, exclude *session) {
	msg, err := encode(event, data)
	if err != nil {
		slog.Error("hub: encode failed", "event", event, "err", err)
		return
	}
	h.metrics.Broadcast(event)
	h.drop(h.sessions.enqueue(msg, nil, exclude))
}

// reply sends event to s only.
func (h *Hub) reply(s *session, event string, data any) {
	msg, err := encode(event, data)
	if err != nil {
		slog.Error("hub: encode failed", "event", event, "err", err)
		return
	}
	h.drop(h.sessions.enqueue(msg, s, nil))
}

// drop disconnects sessions whose outgoing buffer is full.
func (h *Hub) drop(full []*session) {
	for _, s := range full {
		if h.sessions.remove(s) {
			h.metrics.ClientDropped()
			slog.Warn("hub: send buffer full, dropping client", "connection", s.id, "remote", s.remote)
		}
	}
}

func encode(event string, data any) ([]byte, error) {
	return json.Marshal(outbound{Event: event, Data: data})
}
