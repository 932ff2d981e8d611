package alarm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/SpasticCat/findmycar/internal/keyvalue"
	"github.com/SpasticCat/findmycar/internal/notify"
	"github.com/SpasticCat/findmycar/internal/premium"
)

// recordingScheduler captures deliveries instead of showing them.
type recordingScheduler struct {
	mu        sync.Mutex
	immediate []string
	oneShots  []time.Duration
}

func (r *recordingScheduler) ScheduleOneShot(title, body string, delay time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.oneShots = append(r.oneShots, delay)
}

func (r *recordingScheduler) ScheduleImmediate(title, body string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.immediate = append(r.immediate, title)
}

func (r *recordingScheduler) immediateCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.immediate)
}

var _ notify.Scheduler = (*recordingScheduler)(nil)

func newTestEngine(t *testing.T, premiumActive bool) (*Engine, *recordingScheduler, *keyvalue.MemoryStore) {
	t.Helper()
	kv := keyvalue.NewMemoryStore()
	entitlements := []string{}
	if premiumActive {
		entitlements = append(entitlements, "pro")
	}
	gate := premium.NewGate(premium.NewStaticService(entitlements...), kv, "pro")
	gate.Refresh(context.Background())
	sched := &recordingScheduler{}
	e := NewEngine(kv, gate, sched)
	t.Cleanup(e.Stop)
	return e, sched, kv
}

func TestReminderAvailableOnFreeTier(t *testing.T) {
	e, sched, _ := newTestEngine(t, false)
	if err := e.ScheduleReminder(context.Background(), 45); err != nil {
		t.Fatalf("ScheduleReminder: %v", err)
	}
	if len(sched.oneShots) != 1 || sched.oneShots[0] != 45*time.Minute {
		t.Errorf("oneShots = %v, want one 45m entry", sched.oneShots)
	}
	// Fire-and-forget: engine stays idle.
	if st, _ := e.State(); st != Idle {
		t.Errorf("state = %v after reminder, want Idle", st)
	}
}

func TestReminderRejectsBadMinutes(t *testing.T) {
	e, _, _ := newTestEngine(t, false)
	for _, m := range []int{0, -5} {
		if err := e.ScheduleReminder(context.Background(), m); !errors.Is(err, ErrBadDuration) {
			t.Errorf("minutes=%d err = %v, want ErrBadDuration", m, err)
		}
	}
}

func TestCountdownRequiresPremium(t *testing.T) {
	e, _, _ := newTestEngine(t, false)
	_, err := e.StartCountdown(context.Background(), 60)
	if !errors.Is(err, premium.ErrPremiumRequired) {
		t.Fatalf("err = %v, want ErrPremiumRequired", err)
	}
	if st, _ := e.State(); st != Idle {
		t.Errorf("state = %v after gated start, want Idle", st)
	}
}

func TestExtendIsCumulativeFromOriginalEnd(t *testing.T) {
	e, _, _ := newTestEngine(t, true)
	start := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	now := start
	e.now = func() time.Time { return now }

	endsAt, err := e.StartCountdown(context.Background(), 30)
	if err != nil {
		t.Fatalf("StartCountdown: %v", err)
	}
	if !endsAt.Equal(start.Add(30 * time.Minute)) {
		t.Fatalf("endsAt = %v, want start+30m", endsAt)
	}

	// Ten minutes pass before the user extends; the extension still builds
	// on the original end, not on "now".
	now = start.Add(10 * time.Minute)
	extended, err := e.ExtendCountdown(context.Background(), 15)
	if err != nil {
		t.Fatalf("ExtendCountdown: %v", err)
	}
	if !extended.Equal(start.Add(45 * time.Minute)) {
		t.Errorf("extended endsAt = %v, want start+45m", extended)
	}
}

func TestExtendNeedsRunningCountdownAndPremium(t *testing.T) {
	e, _, _ := newTestEngine(t, true)
	if _, err := e.ExtendCountdown(context.Background(), 10); !errors.Is(err, ErrNoCountdown) {
		t.Errorf("err = %v, want ErrNoCountdown", err)
	}

	free, _, _ := newTestEngine(t, false)
	if _, err := free.ExtendCountdown(context.Background(), 10); !errors.Is(err, premium.ErrPremiumRequired) {
		t.Errorf("err = %v, want ErrPremiumRequired", err)
	}
}

func TestOnlyOneCountdown(t *testing.T) {
	e, _, _ := newTestEngine(t, true)
	if _, err := e.StartCountdown(context.Background(), 30); err != nil {
		t.Fatalf("StartCountdown: %v", err)
	}
	if _, err := e.StartCountdown(context.Background(), 10); !errors.Is(err, ErrCountdownActive) {
		t.Errorf("second start err = %v, want ErrCountdownActive", err)
	}
}

func TestExpiryFiresExactlyOnce(t *testing.T) {
	e, sched, kv := newTestEngine(t, true)
	start := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	now := start
	e.now = func() time.Time { return now }

	if _, err := e.StartCountdown(context.Background(), 1); err != nil {
		t.Fatalf("StartCountdown: %v", err)
	}
	e.Stop() // drive ticks by hand

	// Not due yet.
	if e.checkExpiry(context.Background()) {
		t.Fatal("expired before endsAt")
	}

	now = start.Add(61 * time.Second)
	if !e.checkExpiry(context.Background()) {
		t.Fatal("tick past endsAt did not expire")
	}
	if st, _ := e.State(); st != Idle {
		t.Errorf("state = %v after expiry, want Idle", st)
	}
	if sched.immediateCount() != 1 {
		t.Fatalf("immediate notifications = %d, want 1", sched.immediateCount())
	}

	// Further ticks never re-fire.
	e.checkExpiry(context.Background())
	e.checkExpiry(context.Background())
	if sched.immediateCount() != 1 {
		t.Errorf("duplicate expiry notification: %d", sched.immediateCount())
	}

	if _, ok, _ := kv.Get(context.Background(), keyvalue.KeyCountdownEndsAt); ok {
		t.Error("persisted end time survived expiry")
	}
}

func TestClearCountdown(t *testing.T) {
	e, _, kv := newTestEngine(t, true)
	if err := e.ClearCountdown(context.Background()); !errors.Is(err, ErrNoCountdown) {
		t.Fatalf("clear while idle err = %v, want ErrNoCountdown", err)
	}

	if _, err := e.StartCountdown(context.Background(), 30); err != nil {
		t.Fatalf("StartCountdown: %v", err)
	}
	if err := e.ClearCountdown(context.Background()); err != nil {
		t.Fatalf("ClearCountdown: %v", err)
	}
	if st, _ := e.State(); st != Idle {
		t.Errorf("state = %v after clear, want Idle", st)
	}
	if _, ok, _ := kv.Get(context.Background(), keyvalue.KeyCountdownEndsAt); ok {
		t.Error("persisted end time survived clear")
	}
}

func TestResumeFutureCountdown(t *testing.T) {
	e, _, kv := newTestEngine(t, true)
	endsAt, err := e.StartCountdown(context.Background(), 90)
	if err != nil {
		t.Fatalf("StartCountdown: %v", err)
	}
	e.Stop()

	gate := premium.NewGate(premium.NewStaticService("pro"), kv, "pro")
	gate.Refresh(context.Background())
	restarted := NewEngine(kv, gate, &recordingScheduler{})
	t.Cleanup(restarted.Stop)

	if err := restarted.Resume(context.Background()); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	st, resumed := restarted.State()
	if st != CountdownRunning {
		t.Fatalf("state = %v after resume, want CountdownRunning", st)
	}
	if resumed.UnixMilli() != endsAt.UnixMilli() {
		t.Errorf("resumed endsAt = %v, want %v", resumed, endsAt)
	}
}

func TestResumeExpiredCountdownFiresImmediately(t *testing.T) {
	kv := keyvalue.NewMemoryStore()
	gate := premium.NewGate(premium.NewStaticService("pro"), kv, "pro")
	gate.Refresh(context.Background())
	kv.Set(context.Background(), keyvalue.KeyCountdownEndsAt, []byte("1000")) // long past

	sched := &recordingScheduler{}
	e := NewEngine(kv, gate, sched)
	t.Cleanup(e.Stop)
	if err := e.Resume(context.Background()); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	if st, _ := e.State(); st != Idle {
		t.Errorf("state = %v, want Idle", st)
	}
	if sched.immediateCount() != 1 {
		t.Errorf("immediate notifications = %d, want 1", sched.immediateCount())
	}
	if _, ok, _ := kv.Get(context.Background(), keyvalue.KeyCountdownEndsAt); ok {
		t.Error("expired persisted end time not cleared")
	}
}

func TestDowngradeDoesNotCancelRunningCountdown(t *testing.T) {
	kv := keyvalue.NewMemoryStore()
	svc := premium.NewStaticService("pro")
	gate := premium.NewGate(svc, kv, "pro")
	gate.Refresh(context.Background())
	e := NewEngine(kv, gate, &recordingScheduler{})
	t.Cleanup(e.Stop)

	if _, err := e.StartCountdown(context.Background(), 60); err != nil {
		t.Fatalf("StartCountdown: %v", err)
	}

	// Entitlement lapses mid-countdown.
	downgraded := premium.NewGate(premium.NewStaticService(), kv, "pro")
	downgraded.Refresh(context.Background())
	e.gate = downgraded

	if st, _ := e.State(); st != CountdownRunning {
		t.Error("downgrade cancelled a running countdown")
	}
	// But new countdown work is blocked.
	if _, err := e.ExtendCountdown(context.Background(), 10); !errors.Is(err, premium.ErrPremiumRequired) {
		t.Errorf("extend after downgrade err = %v, want ErrPremiumRequired", err)
	}
}
