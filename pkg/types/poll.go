package types

import (
	"strconv"
	"time"
)

// PollType is the voting mode of a poll.
type PollType string

const (
	PollSingle   PollType = "single"
	PollMultiple PollType = "multiple"
)

// PollStatus is the lifecycle state of a poll. active -> closed is terminal.
type PollStatus string

const (
	PollActive PollStatus = "active"
	PollClosed PollStatus = "closed"
)

// Voter records one vote on an option.
type Voter struct {
	UserID  string    `json:"userId" bson:"user_id"`
	VotedAt time.Time `json:"votedAt" bson:"voted_at"`
}

// Option is one answer of a poll. The option exclusively owns its voter set;
// Votes always equals len(Voters) after Poll.Recount.
type Option struct {
	ID     string  `json:"id" bson:"id"`
	Text   string  `json:"text" bson:"text"`
	Votes  int     `json:"votes" bson:"votes"`
	Voters []Voter `json:"voters" bson:"voters"`
}

// HasVoter reports whether userID has voted for o.
func (o *Option) HasVoter(userID string) bool {
	for _, v := range o.Voters {
		if v.UserID == userID {
			return true
		}
	}
	return false
}

// Poll is a question with a fixed list of options. Options are never added
// or removed after creation.
type Poll struct {
	ID                 string     `json:"id" bson:"_id"`
	Question           string     `json:"question" bson:"question"`
	Description        string     `json:"description,omitempty" bson:"description,omitempty"`
	CreatedBy          string     `json:"createdBy" bson:"created_by"`
	CreatorName        string     `json:"creatorName" bson:"creator_name"`
	Options            []Option   `json:"options" bson:"options"`
	AllowMultipleVotes bool       `json:"allowMultipleVotes" bson:"allow_multiple_votes"`
	PollType           PollType   `json:"pollType" bson:"poll_type"`
	Status             PollStatus `json:"status" bson:"status"`
	IsActive           bool       `json:"isActive" bson:"is_active"`
	ExpiresAt          *time.Time `json:"expiresAt,omitempty" bson:"expires_at,omitempty"`
	TotalVotes         int        `json:"totalVotes" bson:"total_votes"`
	CreatedAt          time.Time  `json:"createdAt" bson:"created_at"`
	UpdatedAt          time.Time  `json:"updatedAt" bson:"updated_at"`
}

// OptionID returns the stable identifier of the option at index i.
func OptionID(i int) string {
	return "opt-" + strconv.Itoa(i)
}

// Option returns the option with the given id, or nil.
func (p *Poll) Option(id string) *Option {
	for i := range p.Options {
		if p.Options[i].ID == id {
			return &p.Options[i]
		}
	}
	return nil
}

// HasVoted reports whether userID appears in any option's voter set.
func (p *Poll) HasVoted(userID string) bool {
	for i := range p.Options {
		if p.Options[i].HasVoter(userID) {
			return true
		}
	}
	return false
}

// Recount derives every option's vote count from its voter set and sets
// TotalVotes to their sum. Every mutation of a poll ends with Recount.
func (p *Poll) Recount() {
	total := 0
	for i := range p.Options {
		p.Options[i].Votes = len(p.Options[i].Voters)
		total += p.Options[i].Votes
	}
	p.TotalVotes = total
}

// AcceptingVotes reports whether the poll is open for voting at now:
// status active, the active flag set, and not past its expiry.
func (p *Poll) AcceptingVotes(now time.Time) bool {
	if p.Status != PollActive || !p.IsActive {
		return false
	}
	return p.ExpiresAt == nil || p.ExpiresAt.After(now)
}

// Clone returns a deep copy of p.
func (p *Poll) Clone() *Poll {
	cp := *p
	cp.Options = make([]Option, len(p.Options))
	for i, o := range p.Options {
		o.Voters = append(make([]Voter, 0, len(o.Voters)), o.Voters...)
		cp.Options[i] = o
	}
	if p.ExpiresAt != nil {
		t := *p.ExpiresAt
		cp.ExpiresAt = &t
	}
	return &cp
}
