package polls

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

// Limits on poll creation.
const (
	MinOptions           = 2
	MaxOptions           = 20
	MaxQuestionLength    = 500
	MaxDescriptionLength = 1000
	MaxOptionLength      = 200
)

// CreateRequest describes a new poll.
type CreateRequest struct {
	Question    string
	Description string
	Options     []string
	CreatedBy   string
	CreatorName string

	// AllowMultipleVotes and PollType must agree when both are set. When
	// only one is set the other is derived from it; with neither the poll
	// is single-vote.
	AllowMultipleVotes *bool
	PollType           types.PollType
	ExpiresAt          *time.Time
}

// Counts summarises all polls.
type Counts struct {
	Total      int `json:"total"`
	Active     int `json:"active"`
	Closed     int `json:"closed"`
	TotalVotes int `json:"totalVotes"`
}

// Engine owns poll documents and the vote state machine. Every mutation of
// one poll runs under that poll's lock as a single read-modify-write.
type Engine struct {
	polls store.Polls
	locks keylock.Map
	now   func() time.Time
}

// New returns an Engine over polls.
func New(polls store.Polls) *Engine {
	return &Engine{polls: polls, now: time.Now}
}

// Create validates req, persists the poll with empty tallies and calls commit.
func (e *Engine) Create(ctx context.Context, req CreateRequest, commit func(*types.Poll)) (*types.Poll, error) {
	now := e.now().UTC()
	p, err := e.build(req, now)
	if err != nil {
		return nil, err
	}
	if err := e.polls.CreatePoll(ctx, p); err != nil {
		return nil, fmt.Errorf("polls: create: %w", err)
	}
	if commit != nil {
		commit(p)
	}
	return p, nil
}

func (e *Engine) build(req CreateRequest, now time.Time) (*types.Poll, error) {
	question := strings.TrimSpace(req.Question)
	switch {
	case question == "":
		return nil, fmt.Errorf("%w: question is required", types.ErrValidation)
	case utf8.RuneCountInString(question) > MaxQuestionLength:
		return nil, fmt.Errorf("%w: question exceeds %d characters", types.ErrValidation, MaxQuestionLength)
	case utf8.RuneCountInString(req.Description) > MaxDescriptionLength:
		return nil, fmt.Errorf("%w: description exceeds %d characters", types.ErrValidation, MaxDescriptionLength)
	case req.CreatedBy == "":
		return nil, fmt.Errorf("%w: createdBy is required", types.ErrValidation)
	case len(req.Options) < MinOptions:
		return nil, fmt.Errorf("%w: a poll needs at least %d options", types.ErrValidation, MinOptions)
	case len(req.Options) > MaxOptions:
		return nil, fmt.Errorf("%w: a poll takes at most %d options", types.ErrValidation, MaxOptions)
	}

	options := make([]types.Option, 0, len(req.Options))
	seen := make(map[string]struct{}, len(req.Options))
	for i, raw := range req.Options {
		text := strings.TrimSpace(raw)
		if text == "" {
			return nil, fmt.Errorf("%w: option %d is empty", types.ErrValidation, i)
		}
		if utf8.RuneCountInString(text) > MaxOptionLength {
			return nil, fmt.Errorf("%w: option %d exceeds %d characters", types.ErrValidation, i, MaxOptionLength)
		}
		key := strings.ToLower(text)
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: option %q is listed twice", types.ErrValidation, text)
		}
		seen[key] = struct{}{}
		options = append(options, types.Option{ID: types.OptionID(i), Text: text, Voters: []types.Voter{}})
	}

	multiple, pollType, err := resolveType(req.AllowMultipleVotes, req.PollType)
	if err != nil {
		return nil, err
	}

	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return nil, fmt.Errorf("%w: expiresAt must be in the future", types.ErrValidation)
	}

	p := &types.Poll{
		Question:           question,
		Description:        strings.TrimSpace(req.Description),
		CreatedBy:          req.CreatedBy,
		CreatorName:        req.CreatorName,
		Options:            options,
		AllowMultipleVotes: multiple,
		PollType:           pollType,
		Status:             types.PollActive,
		IsActive:           true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if req.ExpiresAt != nil {
		t := req.ExpiresAt.UTC()
		p.ExpiresAt = &t
	}
	p.Recount()
	return p, nil
}

func resolveType(allow *bool, pt types.PollType) (bool, types.PollType, error) {
	switch pt {
	case "":
		if allow != nil && *allow {
			return true, types.PollMultiple, nil
		}
		return false, types.PollSingle, nil
	case types.PollSingle, types.PollMultiple:
		multiple := pt == types.PollMultiple
		if allow != nil && *allow != multiple {
			return false, "", fmt.Errorf("%w: pollType %q contradicts allowMultipleVotes=%t", types.ErrValidation, pt, *allow)
		}
		return multiple, pt, nil
	default:
		return false, "", fmt.Errorf("%w: pollType %q is not one of single|multiple", types.ErrValidation, pt)
	}
}

// mutate runs fn on the current poll under its lock, persists the result
// and calls commit. fn reports whether it changed anything; an unchanged
// poll is neither written nor committed.
func (e *Engine) mutate(ctx context.Context, op, pollID string, fn func(p *types.Poll, now time.Time) (bool, error), commit func(*types.Poll)) (*types.Poll, error) {
	if pollID == "" {
		return nil, fmt.Errorf("%w: pollId is required", types.ErrValidation)
	}

	unlock := e.locks.Lock(pollID)
	defer unlock()

	p, err := e.polls.GetPoll(ctx, pollID)
	if err != nil {
		return nil, fmt.Errorf("polls: %s: %w", op, err)
	}

	now := e.now().UTC()
	changed, err := fn(p, now)
	if err != nil {
		return nil, fmt.Errorf("polls: %s: %w", op, err)
	}
	if !changed {
		return p, nil
	}

	p.Recount()
	p.UpdatedAt = now
	if err := e.polls.UpdatePoll(ctx, p); err != nil {
		return nil, fmt.Errorf("polls: %s: %w", op, err)
	}
	if commit != nil {
		commit(p)
	}
	return p, nil
}

// Vote records userID's vote for optionID.
//
// It fails with ErrNotFound for a missing poll or option, ErrClosed when the
// poll does not accept votes, and ErrDuplicateVote when the user already
// voted on a single-vote poll or already chose this option.
func (e *Engine) Vote(ctx context.Context, pollID, userID, optionID string, commit func(*types.Poll)) (*types.Poll, error) {
	if userID == "" || optionID == "" {
		return nil, fmt.Errorf("%w: userId and optionId are required", types.ErrValidation)
	}
	return e.mutate(ctx, "vote", pollID, func(p *types.Poll, now time.Time) (bool, error) {
		opt := p.Option(optionID)
		if opt == nil {
			return false, fmt.Errorf("option %q: %w", optionID, types.ErrNotFound)
		}
		if !p.AcceptingVotes(now) {
			return false, fmt.Errorf("poll %q: %w", p.ID, types.ErrClosed)
		}
		if opt.HasVoter(userID) || (!p.AllowMultipleVotes && p.HasVoted(userID)) {
			return false, fmt.Errorf("user %q: %w", userID, types.ErrDuplicateVote)
		}
		opt.Voters = append(opt.Voters, types.Voter{UserID: userID, VotedAt: now})
		return true, nil
	}, commit)
}

// RemoveVote withdraws userID's vote for optionID. Removing a vote that was
// never cast is not an error; the poll is returned unchanged and commit is
// not called. A poll that no longer accepts votes keeps its tally.
func (e *Engine) RemoveVote(ctx context.Context, pollID, userID, optionID string, commit func(*types.Poll)) (*types.Poll, error) {
	if userID == "" || optionID == "" {
		return nil, fmt.Errorf("%w: userId and optionId are required", types.ErrValidation)
	}
	return e.mutate(ctx, "remove vote", pollID, func(p *types.Poll, now time.Time) (bool, error) {
		opt := p.Option(optionID)
		if opt == nil {
			return false, fmt.Errorf("option %q: %w", optionID, types.ErrNotFound)
		}
		if !p.AcceptingVotes(now) {
			return false, fmt.Errorf("poll %q: %w", p.ID, types.ErrClosed)
		}
		for i, v := range opt.Voters {
			if v.UserID == userID {
				opt.Voters = append(opt.Voters[:i], opt.Voters[i+1:]...)
				return true, nil
			}
		}
		return false, nil
	}, commit)
}

// Close stops voting on pollID. Closing a closed poll succeeds without a
// write and still calls commit, so late clients converge on the closed state.
func (e *Engine) Close(ctx context.Context, pollID string, commit func(*types.Poll)) (*types.Poll, error) {
	if pollID == "" {
		return nil, fmt.Errorf("%w: pollId is required", types.ErrValidation)
	}

	unlock := e.locks.Lock(pollID)
	defer unlock()

	p, err := e.polls.GetPoll(ctx, pollID)
	if err != nil {
		return nil, fmt.Errorf("polls: close: %w", err)
	}
	if p.Status != types.PollClosed || p.IsActive {
		p.Status = types.PollClosed
		p.IsActive = false
		p.Recount()
		p.UpdatedAt = e.now().UTC()
		if err := e.polls.UpdatePoll(ctx, p); err != nil {
			return nil, fmt.Errorf("polls: close: %w", err)
		}
	}
	if commit != nil {
		commit(p)
	}
	return p, nil
}

// Delete removes pollID and calls commit with its id.
func (e *Engine) Delete(ctx context.Context, pollID string, commit func(id string)) error {
	if pollID == "" {
		return fmt.Errorf("%w: pollId is required", types.ErrValidation)
	}

	unlock := e.locks.Lock(pollID)
	defer unlock()

	if err := e.polls.DeletePoll(ctx, pollID); err != nil {
		return fmt.Errorf("polls: delete: %w", err)
	}
	if commit != nil {
		commit(pollID)
	}
	return nil
}

// Get returns one poll.
func (e *Engine) Get(ctx context.Context, pollID string) (*types.Poll, error) {
	p, err := e.polls.GetPoll(ctx, pollID)
	if err != nil {
		return nil, fmt.Errorf("polls: get: %w", err)
	}
	return p, nil
}

// List returns every poll, newest first.
func (e *Engine) List(ctx context.Context) ([]*types.Poll, error) {
	ps, err := e.polls.ListPolls(ctx)
	if err != nil {
		return nil, fmt.Errorf("polls: list: %w", err)
	}
	return ps, nil
}

// Counts tallies polls. A poll counts as active while it accepts votes and
// as closed otherwise, expired polls included.
func (e *Engine) Counts(ctx context.Context) (Counts, error) {
	ps, err := e.polls.ListPolls(ctx)
	if err != nil {
		return Counts{}, fmt.Errorf("polls: counts: %w", err)
	}
	now := e.now()
	c := Counts{Total: len(ps)}
	for _, p := range ps {
		if p.AcceptingVotes(now) {
			c.Active++
		} else {
			c.Closed++
		}
		c.TotalVotes += p.TotalVotes
	}
	return c, nil
}
