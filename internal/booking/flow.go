package booking

import (
	"context"
	"fmt"
	"time"

	"stirka/internal/model"

	"github.com/google/uuid"
)

// State is the step a flow is waiting on.
type State string

const (
	StateIdle            State = "idle"
	StateAwaitingDay     State = "awaiting_day"
	StateAwaitingTime    State = "awaiting_time"
	StateAwaitingMachine State = "awaiting_machine"
	StateCommitted       State = "committed"
)

type Kind string

const (
	KindBook       Kind = "book"
	KindReschedule Kind = "reschedule"
)

// Option is one selectable choice of a prompt. Only the field matching
// the prompt's step is set.
type Option struct {
	Token   string        `json:"token"`
	Date    string        `json:"date,omitempty"`
	Slot    string        `json:"slot,omitempty"`
	Machine model.Machine `json:"machine,omitempty"`
}

// Flow is the in-progress dialogue of one user.
type Flow struct {
	ID        string         `json:"id"`
	UserID    int64          `json:"user_id"`
	Kind      Kind           `json:"kind"`
	Step      State          `json:"step"`
	Date      string         `json:"date,omitempty"`
	Slot      string         `json:"slot,omitempty"`
	Current   *model.Booking `json:"current,omitempty"`
	Options   []Option       `json:"options"`
	Seq       int            `json:"seq"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// FlowStore keeps at most one flow per user. Get returns nil, nil when
// the user has no flow.
type FlowStore interface {
	Get(ctx context.Context, userID int64) (*Flow, error)
	Put(ctx context.Context, flow *Flow) error
	Delete(ctx context.Context, userID int64) error
}

func newFlow(userID int64, kind Kind) *Flow {
	return &Flow{
		ID:     uuid.NewString(),
		UserID: userID,
		Kind:   kind,
		Step:   StateIdle,
	}
}

// setOptions replaces the option table; tokens of earlier prompts stop resolving.
func (f *Flow) setOptions(step State, opts []Option) {
	prefix := f.ID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	for i := range opts {
		f.Seq++
		opts[i].Token = fmt.Sprintf("%s.%d", prefix, f.Seq)
	}
	f.Step = step
	f.Options = opts
}

func (f *Flow) lookup(token string) (Option, bool) {
	for _, o := range f.Options {
		if o.Token == token {
			return o, true
		}
	}
	return Option{}, false
}

func (f *Flow) prompt() *Prompt {
	return &Prompt{
		FlowID:  f.ID,
		Kind:    f.Kind,
		Step:    f.Step,
		Date:    f.Date,
		Slot:    f.Slot,
		Current: f.Current,
		Options: append([]Option(nil), f.Options...),
	}
}

// Prompt is what the user is asked next.
type Prompt struct {
	FlowID  string
	Kind    Kind
	Step    State
	Date    string
	Slot    string
	Current *model.Booking
	Options []Option
}

// Outcome is the result of a choice. Prompt is set while the flow goes on;
// Committed is set once the booking is written.
type Outcome struct {
	State     State
	Prompt    *Prompt
	Committed *model.Booking
	Previous  *model.Booking
}
