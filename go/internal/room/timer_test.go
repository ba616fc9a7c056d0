package room

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestMathRoomScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := publicRoom("math")
	a := verified("a", "c1", "Ada")
	b := anon("c2", "Bob")

	if res := h.join(t, "math", a, false, rec); !res.IsHost {
		t.Fatal("first member is not host")
	}
	if res := h.join(t, "math", b, false, rec); res.IsHost {
		t.Fatal("second member became host")
	}

	err := h.reg.StartTimer(ctx, "math", b, &TimerConfig{RemainingSeconds: 60, Label: "Nope"})
	if !errors.Is(err, ErrNotHost) {
		t.Fatalf("StartTimer(non-host) err = %v, want ErrNotHost", err)
	}
	h.noTimerFrames(t)

	if err := h.reg.StartTimer(ctx, "math", a, &TimerConfig{RemainingSeconds: 1500, Label: "Focus"}); err != nil {
		t.Fatalf("StartTimer: %v", err)
	}
	if diff := cmp.Diff(TimerState{Running: true, RemainingSeconds: 1500, Label: "Focus"}, h.nextTimer(t)); diff != "" {
		t.Fatalf("first frame (-want +got):\n%s", diff)
	}

	for want := 1499; want >= 0; want-- {
		h.clock.Advance(time.Second)
		got := h.nextTimer(t)
		if got.RemainingSeconds != want {
			t.Fatalf("tick: remaining = %d, want %d", got.RemainingSeconds, want)
		}
		if got.Running != (want > 0) {
			t.Fatalf("tick at %d: running = %v", want, got.Running)
		}
	}

	h.clock.Advance(5 * time.Second)
	h.noTimerFrames(t)

	state, err := h.reg.Timer(ctx, "math")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(&TimerState{Running: false, RemainingSeconds: 0, Label: "Focus"}, state); diff != "" {
		t.Errorf("final state (-want +got):\n%s", diff)
	}
}

func TestNonHostTimerCommandsAreIgnored(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := publicRoom("math")
	host := anon("c1", "Ann")
	guest := anon("c2", "Ben")

	h.join(t, "math", host, false, rec)
	h.join(t, "math", guest, false, rec)
	if err := h.reg.ResetTimer(ctx, "math", host, TimerConfig{RemainingSeconds: 300, Label: "Break"}); err != nil {
		t.Fatal(err)
	}
	h.nextTimer(t)

	if err := h.reg.PauseTimer(ctx, "math", guest); !errors.Is(err, ErrNotHost) {
		t.Errorf("PauseTimer(non-host) err = %v", err)
	}
	if err := h.reg.ResetTimer(ctx, "math", guest, TimerConfig{RemainingSeconds: 1}); !errors.Is(err, ErrNotHost) {
		t.Errorf("ResetTimer(non-host) err = %v", err)
	}
	h.noTimerFrames(t)

	state, _ := h.reg.Timer(ctx, "math")
	if diff := cmp.Diff(&TimerState{RemainingSeconds: 300, Label: "Break"}, state); diff != "" {
		t.Errorf("timer changed by non-host (-want +got):\n%s", diff)
	}
}

func TestPauseAndResume(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	host := verified("a", "c1", "Ada")
	h.join(t, "math", host, false, publicRoom("math"))

	if err := h.reg.StartTimer(ctx, "math", host, &TimerConfig{RemainingSeconds: 5, Label: "Focus"}); err != nil {
		t.Fatal(err)
	}
	h.nextTimer(t)
	h.clock.Advance(time.Second)
	if got := h.nextTimer(t); got.RemainingSeconds != 4 {
		t.Fatalf("remaining = %d, want 4", got.RemainingSeconds)
	}

	if err := h.reg.PauseTimer(ctx, "math", host); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(TimerState{Running: false, RemainingSeconds: 4, Label: "Focus"}, h.nextTimer(t)); diff != "" {
		t.Fatalf("pause frame (-want +got):\n%s", diff)
	}
	h.clock.Advance(3 * time.Second)
	h.noTimerFrames(t)

	// resume without a config keeps the remaining time
	if err := h.reg.StartTimer(ctx, "math", host, nil); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(TimerState{Running: true, RemainingSeconds: 4, Label: "Focus"}, h.nextTimer(t)); diff != "" {
		t.Fatalf("resume frame (-want +got):\n%s", diff)
	}

	// starting again while running is a no-op
	if err := h.reg.StartTimer(ctx, "math", host, &TimerConfig{RemainingSeconds: 99}); err != nil {
		t.Fatal(err)
	}
	h.noTimerFrames(t)

	h.clock.Advance(time.Second)
	if got := h.nextTimer(t); got.RemainingSeconds != 3 || !got.Running {
		t.Fatalf("after resume tick = %+v", got)
	}
}

func TestResetCancelsRunningTimer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	host := verified("a", "c1", "Ada")
	h.join(t, "math", host, false, publicRoom("math"))

	if err := h.reg.StartTimer(ctx, "math", host, &TimerConfig{RemainingSeconds: 10}); err != nil {
		t.Fatal(err)
	}
	h.nextTimer(t)

	if err := h.reg.ResetTimer(ctx, "math", host, TimerConfig{RemainingSeconds: -5, Label: "Short"}); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(TimerState{Label: "Short"}, h.nextTimer(t)); diff != "" {
		t.Fatalf("reset frame (-want +got):\n%s", diff)
	}
	h.clock.Advance(2 * time.Second)
	h.noTimerFrames(t)

	// nothing left and no new config
	if err := h.reg.StartTimer(ctx, "math", host, nil); err != nil {
		t.Fatal(err)
	}
	h.noTimerFrames(t)
}

func TestStartWithoutTimerIsNoop(t *testing.T) {
	h := newHarness(t)
	host := anon("c1", "Ann")
	h.join(t, "math", host, false, publicRoom("math"))

	if err := h.reg.StartTimer(context.Background(), "math", host, nil); err != nil {
		t.Fatal(err)
	}
	h.noTimerFrames(t)
	if err := h.reg.PauseTimer(context.Background(), "math", host); err != nil {
		t.Fatal(err)
	}
	h.noTimerFrames(t)
}

func TestJoinerSeesCurrentTimer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := publicRoom("math")
	host := anon("c1", "Ann")
	h.join(t, "math", host, false, rec)
	if err := h.reg.ResetTimer(ctx, "math", host, TimerConfig{RemainingSeconds: 90, Label: "Focus"}); err != nil {
		t.Fatal(err)
	}
	h.out.reset()

	res := h.join(t, "math", anon("c2", "Ben"), false, rec)
	if diff := cmp.Diff(&TimerState{RemainingSeconds: 90, Label: "Focus"}, res.Timer); diff != "" {
		t.Errorf("JoinResult.Timer (-want +got):\n%s", diff)
	}
	frames := h.out.take(EventTimerUpdated)
	if len(frames) != 1 || frames[0].To != "c2" {
		t.Errorf("timer frames to joiner = %+v", frames)
	}
}

func TestHostWhoLeftCannotDriveTimer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := publicRoom("math")
	host := verified("a", "c1", "Ada")
	guest := anon("c2", "Ben")

	h.join(t, "math", host, true, rec)
	h.join(t, "math", guest, false, rec)
	if err := h.reg.Leave(ctx, "math", "c1"); err != nil {
		t.Fatal(err)
	}
	h.out.reset()

	if err := h.reg.StartTimer(ctx, "math", host, &TimerConfig{RemainingSeconds: 60}); !errors.Is(err, ErrNotHost) {
		t.Errorf("StartTimer after leaving err = %v, want ErrNotHost", err)
	}
	if err := h.reg.PauseTimer(ctx, "math", host); !errors.Is(err, ErrNotHost) {
		t.Errorf("PauseTimer after leaving err = %v, want ErrNotHost", err)
	}
	if err := h.reg.ResetTimer(ctx, "math", host, TimerConfig{RemainingSeconds: 30}); !errors.Is(err, ErrNotHost) {
		t.Errorf("ResetTimer after leaving err = %v, want ErrNotHost", err)
	}
	h.noTimerFrames(t)
	if state, _ := h.reg.Timer(ctx, "math"); state != nil {
		t.Errorf("timer = %+v, want none", state)
	}
}
