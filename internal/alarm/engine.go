package alarm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/SpasticCat/findmycar/internal/keyvalue"
	"github.com/SpasticCat/findmycar/internal/notify"
	"github.com/SpasticCat/findmycar/internal/premium"
)

var (
	// ErrCountdownActive means a countdown is already running; only one may
	// exist at a time.
	ErrCountdownActive = errors.New("alarm: countdown already running")
	// ErrNoCountdown means extend/clear found nothing to operate on.
	ErrNoCountdown = errors.New("alarm: no countdown running")
	// ErrBadDuration rejects non-positive minute values.
	ErrBadDuration = errors.New("alarm: minutes must be positive")
)

// State of the timer engine. ReminderScheduled is transient: a reminder is
// handed to the scheduler and the engine is back in Idle before the call
// returns.
type State string

const (
	Idle             State = "idle"
	CountdownRunning State = "countdown_running"
)

const (
	reminderTitle = "Parking reminder"
	expiredTitle  = "Time's up"
	expiredBody   = "Your parking countdown has ended."
)

// Engine runs one-shot reminders (any tier) and a single live countdown
// (premium). The countdown end time is persisted so a restart resumes an
// in-flight countdown. The 1 s tick only runs while a countdown is active.
//
// Losing the entitlement mid-countdown does not cancel it; the gate only
// blocks starting or extending.
type Engine struct {
	kv    keyvalue.Store
	gate  *premium.Gate
	sched notify.Scheduler

	mu         sync.Mutex
	endsAt     time.Time // zero while idle
	cancelTick context.CancelFunc

	now       func() time.Time
	tickEvery time.Duration
}

func NewEngine(kv keyvalue.Store, gate *premium.Gate, sched notify.Scheduler) *Engine {
	return &Engine{
		kv:        kv,
		gate:      gate,
		sched:     sched,
		now:       time.Now,
		tickEvery: time.Second,
	}
}

// Resume recovers a persisted countdown after a restart. An end time already
// in the past fires the expiry immediately.
func (e *Engine) Resume(ctx context.Context) error {
	raw, ok, err := e.kv.Get(ctx, keyvalue.KeyCountdownEndsAt)
	if err != nil {
		return fmt.Errorf("alarm: read persisted countdown: %w", err)
	}
	if !ok {
		return nil
	}
	millis, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		log.Printf("[alarm] discarding unreadable persisted countdown: %v", err)
		e.kv.Remove(ctx, keyvalue.KeyCountdownEndsAt)
		return nil
	}
	endsAt := time.UnixMilli(millis)

	e.mu.Lock()
	if endsAt.After(e.now()) {
		e.endsAt = endsAt
		e.startTickLocked()
		e.mu.Unlock()
		log.Printf("[alarm] resumed countdown ending %s", endsAt.Format(time.RFC3339))
		return nil
	}
	e.mu.Unlock()

	// Expired while the process was down.
	e.expire(ctx, endsAt)
	return nil
}

// State returns the current state and, while running, the countdown end.
func (e *Engine) State() (State, time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.endsAt.IsZero() {
		return Idle, time.Time{}
	}
	return CountdownRunning, e.endsAt
}

// ScheduleReminder hands a one-shot notification to the scheduler and
// forgets about it. Available on every tier, countdown or not.
func (e *Engine) ScheduleReminder(_ context.Context, minutes int) error {
	if minutes <= 0 {
		return ErrBadDuration
	}
	body := fmt.Sprintf("You parked %d minutes ago.", minutes)
	e.sched.ScheduleOneShot(reminderTitle, body, time.Duration(minutes)*time.Minute)
	return nil
}

// StartCountdown begins a live countdown ending minutes from now. Premium
// only; callers seeing ErrPremiumRequired should route the user to the
// upgrade/restore flow.
func (e *Engine) StartCountdown(ctx context.Context, minutes int) (time.Time, error) {
	if minutes <= 0 {
		return time.Time{}, ErrBadDuration
	}
	if !e.gate.IsActive() {
		return time.Time{}, premium.ErrPremiumRequired
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.endsAt.IsZero() {
		return e.endsAt, ErrCountdownActive
	}

	e.endsAt = e.now().Add(time.Duration(minutes) * time.Minute)
	e.startTickLocked()
	log.Printf("[alarm] countdown started, ends %s", e.endsAt.Format(time.RFC3339))
	return e.endsAt, e.persistLocked(ctx)
}

// ExtendCountdown adds minutes to the stored end time. Cumulative: the
// extension builds on endsAt, not on the current moment.
func (e *Engine) ExtendCountdown(ctx context.Context, minutes int) (time.Time, error) {
	if minutes <= 0 {
		return time.Time{}, ErrBadDuration
	}
	if !e.gate.IsActive() {
		return time.Time{}, premium.ErrPremiumRequired
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.endsAt.IsZero() {
		return time.Time{}, ErrNoCountdown
	}

	e.endsAt = e.endsAt.Add(time.Duration(minutes) * time.Minute)
	log.Printf("[alarm] countdown extended to %s", e.endsAt.Format(time.RFC3339))
	return e.endsAt, e.persistLocked(ctx)
}

// ClearCountdown cancels the countdown. Always permitted.
func (e *Engine) ClearCountdown(ctx context.Context) error {
	e.mu.Lock()
	if e.endsAt.IsZero() {
		e.mu.Unlock()
		return ErrNoCountdown
	}
	e.clearLocked()
	e.mu.Unlock()

	if err := e.kv.Remove(ctx, keyvalue.KeyCountdownEndsAt); err != nil {
		return fmt.Errorf("alarm: clear persisted countdown: %w", err)
	}
	log.Printf("[alarm] countdown cleared")
	return nil
}

// Stop halts the tick loop without touching persisted state, for shutdown.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancelTick != nil {
		e.cancelTick()
		e.cancelTick = nil
	}
}

// startTickLocked launches the 1 s expiry check. Caller holds e.mu and has
// set endsAt.
func (e *Engine) startTickLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	e.cancelTick = cancel
	go func() {
		ticker := time.NewTicker(e.tickEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if e.checkExpiry(context.Background()) {
					return
				}
			}
		}
	}()
}

// checkExpiry fires the expiry exactly once when endsAt has passed. Returns
// true when the countdown ended.
func (e *Engine) checkExpiry(ctx context.Context) bool {
	e.mu.Lock()
	if e.endsAt.IsZero() {
		e.mu.Unlock()
		return true
	}
	if e.now().Before(e.endsAt) {
		e.mu.Unlock()
		return false
	}
	endsAt := e.endsAt
	e.clearLocked()
	e.mu.Unlock()

	e.expire(ctx, endsAt)
	return true
}

// expire delivers the time's-up notification and drops persisted state.
func (e *Engine) expire(ctx context.Context, endsAt time.Time) {
	log.Printf("[alarm] countdown expired at %s", endsAt.Format(time.RFC3339))
	e.sched.ScheduleImmediate(expiredTitle, expiredBody)
	if err := e.kv.Remove(ctx, keyvalue.KeyCountdownEndsAt); err != nil {
		log.Printf("[alarm] failed to clear persisted countdown: %v", err)
	}
}

// clearLocked zeroes the countdown and stops the tick. Caller holds e.mu.
func (e *Engine) clearLocked() {
	e.endsAt = time.Time{}
	if e.cancelTick != nil {
		e.cancelTick()
		e.cancelTick = nil
	}
}

func (e *Engine) persistLocked(ctx context.Context) error {
	v := strconv.FormatInt(e.endsAt.UnixMilli(), 10)
	if err := e.kv.Set(ctx, keyvalue.KeyCountdownEndsAt, []byte(v)); err != nil {
		return fmt.Errorf("alarm: persist countdown: %w", err)
	}
	return nil
}
