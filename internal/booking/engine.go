// Package booking drives the day, time and machine selection dialogue and
// commits the result to the schedule.
package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stirka/internal/events"
	"stirka/internal/metrics"
	"stirka/internal/model"
	"stirka/internal/slots"

	"github.com/rs/zerolog"
)

// Schedule is the part of the schedule store the engine needs.
type Schedule interface {
	List(ctx context.Context) []model.Booking
	Insert(ctx context.Context, b model.Booking) error
	Replace(ctx context.Context, userID int64, b model.Booking) error
	FindByUser(ctx context.Context, userID int64) (*model.Booking, bool)
}

type Authorizer interface {
	Authorized(userID int64) bool
}

type Publisher interface {
	PublishJSON(eventType string, payload any) error
}

type Engine struct {
	schedule Schedule
	dir      Authorizer
	flows    FlowStore
	bus      Publisher
	loc      *time.Location
	now      func() time.Time
	locks    *userLocks
	logger   zerolog.Logger
}

func NewEngine(schedule Schedule, dir Authorizer, flows FlowStore, bus Publisher, loc *time.Location, logger *zerolog.Logger) *Engine {
	if loc == nil {
		loc = time.Local
	}
	return &Engine{
		schedule: schedule,
		dir:      dir,
		flows:    flows,
		bus:      bus,
		loc:      loc,
		now:      time.Now,
		locks:    newUserLocks(),
		logger:   logger.With().Str("component", "booking").Logger(),
	}
}

// WithClock replaces the time source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

func (e *Engine) StartBooking(ctx context.Context, userID int64) (*Prompt, error) {
	defer e.locks.lock(userID)()

	if !e.dir.Authorized(userID) {
		return nil, e.reject(ErrUnauthorized)
	}
	if _, ok := e.schedule.FindByUser(ctx, userID); ok {
		return nil, e.reject(ErrAlreadyBooked)
	}

	flow := newFlow(userID, KindBook)
	metrics.IncFlowStarted(string(KindBook))
	return e.offerDays(ctx, flow)
}

// StartReschedule opens a flow for moving the user's booking. The current
// booking stays in place until the new one is committed.
func (e *Engine) StartReschedule(ctx context.Context, userID int64) (*Prompt, error) {
	defer e.locks.lock(userID)()

	if !e.dir.Authorized(userID) {
		return nil, e.reject(ErrUnauthorized)
	}
	current, ok := e.schedule.FindByUser(ctx, userID)
	if !ok {
		return nil, e.reject(ErrNoExistingBooking)
	}

	flow := newFlow(userID, KindReschedule)
	flow.Current = current
	metrics.IncFlowStarted(string(KindReschedule))
	return e.offerDays(ctx, flow)
}

// Choose applies the option behind token to the user's active flow.
// When the flow continues the returned Outcome carries the next prompt,
// also alongside an error that sends the user back a step.
func (e *Engine) Choose(ctx context.Context, userID int64, token string) (*Outcome, error) {
	defer e.locks.lock(userID)()

	flow, err := e.flows.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load flow: %w", err)
	}
	if flow == nil {
		return nil, e.reject(ErrInvalidSelection)
	}
	opt, ok := flow.lookup(token)
	if !ok {
		return &Outcome{State: flow.Step, Prompt: flow.prompt()}, e.reject(ErrInvalidSelection)
	}

	now := e.clock()
	switch flow.Step {
	case StateAwaitingDay:
		return e.chooseDay(ctx, flow, opt.Date, now)
	case StateAwaitingTime:
		return e.chooseTime(ctx, flow, opt.Slot, now)
	case StateAwaitingMachine:
		return e.chooseMachine(ctx, flow, opt.Machine, now)
	default:
		if err := e.flows.Delete(ctx, userID); err != nil {
			e.logger.Warn().Err(err).Int64("user_id", userID).Msg("failed to drop flow in unexpected state")
		}
		return nil, e.reject(ErrInvalidSelection)
	}
}

// Cancel drops the user's active flow and reports whether there was one.
func (e *Engine) Cancel(ctx context.Context, userID int64) bool {
	defer e.locks.lock(userID)()

	flow, err := e.flows.Get(ctx, userID)
	if err != nil || flow == nil {
		return false
	}
	if err := e.flows.Delete(ctx, userID); err != nil {
		e.logger.Error().Err(err).Int64("user_id", userID).Msg("failed to drop flow")
		return false
	}
	return true
}

func (e *Engine) chooseDay(ctx context.Context, flow *Flow, date string, now time.Time) (*Outcome, error) {
	if !slots.InWindow(date, now) {
		out, err := e.offerDaysOutcome(ctx, flow)
		if err != nil {
			return nil, err
		}
		return out, e.reject(ErrInvalidSelection)
	}

	free := slots.AvailableSlots(e.snapshot(ctx, flow), date, now)
	if len(free) == 0 {
		e.end(ctx, flow)
		return nil, e.reject(ErrNoSlots)
	}

	flow.Date = date
	return e.offerTimes(ctx, flow, free)
}

func (e *Engine) chooseTime(ctx context.Context, flow *Flow, slot string, now time.Time) (*Outcome, error) {
	bookings := e.snapshot(ctx, flow)
	if !slots.Contains(slots.AvailableSlots(bookings, flow.Date, now), slot) {
		out, err := e.offerDaysOutcome(ctx, flow)
		if err != nil {
			return nil, err
		}
		return out, e.reject(ErrSlotNoLongerAvailable)
	}

	machines := slots.AvailableMachines(bookings, flow.Date, slot)
	if len(machines) == 0 {
		e.end(ctx, flow)
		return nil, e.reject(ErrNoMachines)
	}

	flow.Slot = slot
	opts := make([]Option, 0, len(machines))
	for _, m := range machines {
		opts = append(opts, Option{Machine: m})
	}
	flow.setOptions(StateAwaitingMachine, opts)
	return e.save(ctx, flow)
}

func (e *Engine) chooseMachine(ctx context.Context, flow *Flow, machine model.Machine, now time.Time) (*Outcome, error) {
	if start, err := slots.StartOf(flow.Date, flow.Slot, e.loc); err != nil || !start.After(now) {
		// started while the user was choosing
		out, err := e.offerDaysOutcome(ctx, flow)
		if err != nil {
			return nil, err
		}
		return out, e.reject(ErrSlotNoLongerAvailable)
	}
	bookings := e.snapshot(ctx, flow)
	if !containsMachine(slots.AvailableMachines(bookings, flow.Date, flow.Slot), machine) {
		return e.machineGone(ctx, flow, now)
	}

	b := model.Booking{Date: flow.Date, TimeSlot: flow.Slot, Machine: machine, UserID: flow.UserID}
	var err error
	if flow.Kind == KindReschedule {
		err = e.schedule.Replace(ctx, flow.UserID, b)
	} else {
		err = e.schedule.Insert(ctx, b)
	}

	switch {
	case err == nil:
	case errors.Is(err, model.ErrSlotTaken):
		return e.machineGone(ctx, flow, now)
	case errors.Is(err, model.ErrUserHasBooking):
		e.end(ctx, flow)
		return nil, e.reject(ErrAlreadyBooked)
	default:
		e.logger.Error().Err(err).
			Int64("user_id", flow.UserID).
			Str("date", b.Date).
			Str("slot", b.TimeSlot).
			Msg("failed to commit booking")
		return &Outcome{State: flow.Step, Prompt: flow.prompt()}, e.reject(err)
	}

	e.end(ctx, flow)
	metrics.IncBookingCommitted(string(flow.Kind))
	e.publish(flow, b)

	return &Outcome{State: StateCommitted, Committed: &b, Previous: flow.Current}, nil
}

// machineGone sends the user back to the times of the same day.
func (e *Engine) machineGone(ctx context.Context, flow *Flow, now time.Time) (*Outcome, error) {
	free := slots.AvailableSlots(e.snapshot(ctx, flow), flow.Date, now)
	if len(free) == 0 {
		e.end(ctx, flow)
		return nil, e.reject(ErrNoSlots)
	}
	out, err := e.offerTimes(ctx, flow, free)
	if err != nil {
		return nil, err
	}
	return out, e.reject(ErrMachineNoLongerAvailable)
}

func (e *Engine) offerDays(ctx context.Context, flow *Flow) (*Prompt, error) {
	out, err := e.offerDaysOutcome(ctx, flow)
	if err != nil {
		return nil, err
	}
	return out.Prompt, nil
}

func (e *Engine) offerDaysOutcome(ctx context.Context, flow *Flow) (*Outcome, error) {
	days := slots.Window(e.clock())
	opts := make([]Option, 0, len(days))
	for _, d := range days {
		opts = append(opts, Option{Date: d.Format(model.DateLayout)})
	}
	flow.Date, flow.Slot = "", ""
	flow.setOptions(StateAwaitingDay, opts)
	return e.save(ctx, flow)
}

func (e *Engine) offerTimes(ctx context.Context, flow *Flow, free []string) (*Outcome, error) {
	opts := make([]Option, 0, len(free))
	for _, s := range free {
		opts = append(opts, Option{Slot: s})
	}
	flow.Slot = ""
	flow.setOptions(StateAwaitingTime, opts)
	return e.save(ctx, flow)
}

func (e *Engine) save(ctx context.Context, flow *Flow) (*Outcome, error) {
	flow.UpdatedAt = e.now()
	if err := e.flows.Put(ctx, flow); err != nil {
		return nil, fmt.Errorf("save flow: %w", err)
	}
	return &Outcome{State: flow.Step, Prompt: flow.prompt()}, nil
}

func (e *Engine) end(ctx context.Context, flow *Flow) {
	if err := e.flows.Delete(ctx, flow.UserID); err != nil {
		e.logger.Warn().Err(err).Int64("user_id", flow.UserID).Msg("failed to delete flow")
	}
}

// snapshot is the schedule as seen by flow. A rescheduling user's own
// booking counts as free since the commit replaces it.
func (e *Engine) snapshot(ctx context.Context, flow *Flow) []model.Booking {
	bookings := e.schedule.List(ctx)
	if flow.Kind == KindReschedule {
		return slots.Without(bookings, flow.UserID)
	}
	return bookings
}

func (e *Engine) publish(flow *Flow, b model.Booking) {
	if e.bus == nil {
		return
	}
	eventType := events.BookingCommitted
	if flow.Kind == KindReschedule {
		eventType = events.BookingRescheduled
	}
	payload := events.BookingPayload{UserID: flow.UserID, Booking: b, Previous: flow.Current}
	if err := e.bus.PublishJSON(eventType, payload); err != nil {
		e.logger.Warn().Err(err).Str("event", eventType).Msg("failed to publish event")
	}
}

func (e *Engine) reject(err error) error {
	metrics.IncFlowRejected(reason(err))
	return err
}

func (e *Engine) clock() time.Time {
	return e.now().In(e.loc)
}

func containsMachine(list []model.Machine, m model.Machine) bool {
	for _, x := range list {
		if x == m {
			return true
		}
	}
	return false
}
