package types

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func samplePoll() *Poll {
	return &Poll{
		ID:       "p1",
		Question: "Best time?",
		Options: []Option{
			{ID: OptionID(0), Text: "Morning"},
			{ID: OptionID(1), Text: "Evening"},
		},
		Status:   PollActive,
		IsActive: true,
	}
}

func TestRecount_SumsVoterSets(t *testing.T) {
	p := samplePoll()
	p.Options[0].Voters = []Voter{{UserID: "a"}, {UserID: "b"}}
	p.Options[1].Voters = []Voter{{UserID: "c"}}
	p.Options[1].Votes = 42 // drifted count must be corrected
	p.Recount()

	if p.Options[0].Votes != 2 {
		t.Errorf("opt-0 votes: got %d, want 2", p.Options[0].Votes)
	}
	if p.Options[1].Votes != 1 {
		t.Errorf("opt-1 votes: got %d, want 1", p.Options[1].Votes)
	}
	if p.TotalVotes != 3 {
		t.Errorf("TotalVotes: got %d, want 3", p.TotalVotes)
	}
}

func TestAcceptingVotes(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	tests := []struct {
		name   string
		mutate func(p *Poll)
		want   bool
	}{
		{"open", func(p *Poll) {}, true},
		{"closed status", func(p *Poll) { p.Status = PollClosed }, false},
		{"inactive flag", func(p *Poll) { p.IsActive = false }, false},
		{"expired", func(p *Poll) { p.ExpiresAt = &past }, false},
		{"expires later", func(p *Poll) { p.ExpiresAt = &future }, true},
		{"expires exactly now", func(p *Poll) { p.ExpiresAt = &now }, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := samplePoll()
			tc.mutate(p)
			if got := p.AcceptingVotes(now); got != tc.want {
				t.Errorf("AcceptingVotes: got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestClone_IsDeep(t *testing.T) {
	p := samplePoll()
	p.Options[0].Voters = []Voter{{UserID: "a"}}
	exp := time.Now()
	p.ExpiresAt = &exp

	cp := p.Clone()
	cp.Options[0].Voters[0].UserID = "mutated"
	cp.Options[1].Text = "changed"
	*cp.ExpiresAt = exp.Add(time.Hour)

	if p.Options[0].Voters[0].UserID != "a" {
		t.Error("Clone shares voter slices with the original")
	}
	if p.Options[1].Text != "Evening" {
		t.Error("Clone shares the options slice with the original")
	}
	if !p.ExpiresAt.Equal(exp) {
		t.Error("Clone shares ExpiresAt with the original")
	}
}

func TestHasVoted(t *testing.T) {
	p := samplePoll()
	p.Options[1].Voters = []Voter{{UserID: "b"}}
	if !p.HasVoted("b") {
		t.Error("HasVoted(b): got false, want true")
	}
	if p.HasVoted("a") {
		t.Error("HasVoted(a): got true, want false")
	}
	if p.Option("opt-9") != nil {
		t.Error("Option(opt-9): want nil")
	}
}

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("%w: empty question", ErrValidation), "validation_error"},
		{fmt.Errorf("polls: vote: %w", ErrDuplicateVote), "duplicate_vote"},
		{ErrClosed, "closed"},
		{ErrNotFound, "not_found"},
		{ErrForbidden, "forbidden"},
		{fmt.Errorf("store: %w", ErrPersistenceTimeout), "persistence_timeout"},
		{ErrPersistenceUnavailable, "persistence_unavailable"},
		{errors.New("boom"), "internal"},
	}
	for _, tc := range tests {
		if got := Code(tc.err); got != tc.want {
			t.Errorf("Code(%v): got %q, want %q", tc.err, got, tc.want)
		}
	}
	if IsDomain(ErrPersistenceTimeout) {
		t.Error("IsDomain(ErrPersistenceTimeout): got true, want false")
	}
	if !IsDomain(ErrForbidden) {
		t.Error("IsDomain(ErrForbidden): got false, want true")
	}
}
