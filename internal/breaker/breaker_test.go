package breaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fetcharr/internal/services"
)

var errBoom = errors.New("boom")

func failing(context.Context) error { return errBoom }
func succeeding(context.Context) error { return nil }

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	b := New(Config{FailureThreshold: 5, ResetTimeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := b.Execute(ctx, failing); !errors.Is(err, errBoom) {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %s, want open", b.State())
	}

	calls := 0
	err := b.Execute(ctx, func(context.Context) error {
		calls++
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if calls != 0 {
		t.Fatal("open breaker invoked the wrapped function")
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := New(Config{FailureThreshold: 3, ResetTimeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_ = b.Execute(ctx, failing)
	}
	if err := b.Execute(ctx, succeeding); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := b.Stats().FailureCount; got != 0 {
		t.Fatalf("FailureCount = %d, want 0 after success", got)
	}
	if b.State() != StateClosed {
		t.Fatalf("state = %s, want closed", b.State())
	}
}

func TestHalfOpenAllowsSingleTrial(t *testing.T) {
	b := New(Config{FailureThreshold: 2, ResetTimeout: 30 * time.Second})
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b.SetClock(func() time.Time { return clock })
	ctx := context.Background()

	_ = b.Execute(ctx, failing)
	_ = b.Execute(ctx, failing)
	if b.State() != StateOpen {
		t.Fatalf("state = %s, want open", b.State())
	}

	clock = clock.Add(31 * time.Second)

	trialStarted := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	var trialErr error
	go func() {
		defer wg.Done()
		trialErr = b.Execute(ctx, func(context.Context) error {
			close(trialStarted)
			<-release
			return nil
		})
	}()

	<-trialStarted
	// Second caller while the trial is in flight is rejected.
	if err := b.Execute(ctx, succeeding); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("concurrent call during trial: %v", err)
	}

	close(release)
	wg.Wait()
	if trialErr != nil {
		t.Fatalf("trial call: %v", trialErr)
	}
	if b.State() != StateClosed {
		t.Fatalf("state after successful trial = %s, want closed", b.State())
	}
}

func TestFailedTrialReopens(t *testing.T) {
	b := New(Config{FailureThreshold: 2, ResetTimeout: 30 * time.Second})
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b.SetClock(func() time.Time { return clock })
	ctx := context.Background()

	_ = b.Execute(ctx, failing)
	_ = b.Execute(ctx, failing)
	clock = clock.Add(31 * time.Second)

	if err := b.Execute(ctx, failing); !errors.Is(err, errBoom) {
		t.Fatalf("trial call: %v", err)
	}
	if b.State() != StateOpen {
		t.Fatalf("state after failed trial = %s, want open", b.State())
	}
	if err := b.Execute(ctx, succeeding); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("call after failed trial: %v", err)
	}
}

func TestIsFailureHookFiltersErrors(t *testing.T) {
	b := New(Config{
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
		IsFailure:        services.CountsAsFailure,
	})
	ctx := context.Background()

	notFound := services.Wrap(services.ErrNotFound, "tmdb", "search", "no match", nil)
	for i := 0; i < 5; i++ {
		if err := b.Execute(ctx, func(context.Context) error { return notFound }); !errors.Is(err, services.ErrNotFound) {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if b.State() != StateClosed {
		t.Fatalf("not-found responses tripped the breaker: %s", b.State())
	}
}

func TestOnStateChangeCallback(t *testing.T) {
	var transitions []string
	b := New(Config{
		FailureThreshold: 1,
		ResetTimeout:     10 * time.Second,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, from.String()+">"+to.String())
		},
	})
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b.SetClock(func() time.Time { return clock })
	ctx := context.Background()

	_ = b.Execute(ctx, failing)
	clock = clock.Add(11 * time.Second)
	_ = b.Execute(ctx, succeeding)

	want := []string{"closed>open", "open>half-open", "half-open>closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("transition %d = %s, want %s", i, transitions[i], want[i])
		}
	}
}

func TestResetClosesCircuit(t *testing.T) {
	b := New(Config{FailureThreshold: 1, ResetTimeout: time.Minute})
	ctx := context.Background()

	_ = b.Execute(ctx, failing)
	if !b.IsOpen() {
		t.Fatal("breaker should be open")
	}
	b.Reset()
	if b.State() != StateClosed {
		t.Fatalf("state after Reset = %s", b.State())
	}
	if got := b.Stats().FailureCount; got != 0 {
		t.Fatalf("FailureCount after Reset = %d", got)
	}
	if err := b.Execute(ctx, succeeding); err != nil {
		t.Fatalf("Execute after Reset: %v", err)
	}
}

func TestStaleCallDoesNotReleaseTrialSlot(t *testing.T) {
	current := time.Now()
	b := New(Config{FailureThreshold: 2, ResetTimeout: 30 * time.Second})
	b.SetClock(func() time.Time { return current })
	ctx := context.Background()

	// A slow call enters while the circuit is still closed.
	staleEntered := make(chan struct{})
	staleRelease := make(chan struct{})
	staleDone := make(chan error, 1)
	go func() {
		staleDone <- b.Execute(ctx, func(context.Context) error {
			close(staleEntered)
			<-staleRelease
			return nil
		})
	}()
	<-staleEntered

	for i := 0; i < 2; i++ {
		_ = b.Execute(ctx, failing)
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %s, want open", b.State())
	}

	current = current.Add(31 * time.Second)

	// The trial call occupies the half-open slot.
	trialEntered := make(chan struct{})
	trialRelease := make(chan struct{})
	trialDone := make(chan error, 1)
	go func() {
		trialDone <- b.Execute(ctx, func(context.Context) error {
			close(trialEntered)
			<-trialRelease
			return nil
		})
	}()
	<-trialEntered

	// The stale call finishing must not free the slot for a second trial.
	close(staleRelease)
	if err := <-staleDone; err != nil {
		t.Fatalf("stale call: %v", err)
	}
	if err := b.Execute(ctx, succeeding); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("second concurrent trial allowed: %v", err)
	}

	close(trialRelease)
	if err := <-trialDone; err != nil {
		t.Fatalf("trial call: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("state = %s, want closed after trial success", b.State())
	}
}

func TestIsOpenExpiresWithTimeout(t *testing.T) {
	b := New(Config{FailureThreshold: 1, ResetTimeout: 30 * time.Second})
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b.SetClock(func() time.Time { return clock })

	_ = b.Execute(context.Background(), failing)
	if !b.IsOpen() {
		t.Fatal("breaker should report open")
	}
	clock = clock.Add(31 * time.Second)
	if b.IsOpen() {
		t.Fatal("breaker should allow a trial once the timeout elapsed")
	}
}
