package reading

import (
	"context"
	"errors"
	"testing"
	"time"

	"narrator-server-go/internal/domain/playback"
	"narrator-server-go/internal/platform/config"
)

func TestManagerLifecycle(t *testing.T) {
	h := newHarness(t, &fakeProvider{}, Options{MaxSessions: 2})
	m := h.manager

	a, err := m.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	b, err := m.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if a.ID() == b.ID() {
		t.Fatal("session ids must be unique")
	}
	if _, err := m.Create(); !errors.Is(err, ErrTooManySessions) {
		t.Fatalf("expected ErrTooManySessions, got %v", err)
	}

	got, err := m.Get(a.ID())
	if err != nil || got != a {
		t.Fatalf("Get returned %v, %v", got, err)
	}
	if err := m.Remove(a.ID()); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := m.Get(a.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if err := m.Remove(a.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("second Remove should report not found, got %v", err)
	}
	if m.Len() != 1 {
		t.Fatalf("expected 1 session, got %d", m.Len())
	}
	if len(m.Voices()) != 1 {
		t.Fatal("expected provider voices")
	}
}

func TestSessionsAreIndependent(t *testing.T) {
	h := newHarness(t, &fakeProvider{}, Options{})
	a := h.session(t)
	b := h.session(t)

	if _, err := a.Prepare(context.Background(), PrepareRequest{Text: "only the first session"}); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if b.State() != playback.StateIdle {
		t.Fatalf("second session changed state: %s", b.State())
	}
	if err := a.Play(-1, true); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if !errors.Is(b.Play(-1, true), playback.ErrNotReady) {
		t.Fatal("unprepared session should not play")
	}
}

func TestReapIdleSessions(t *testing.T) {
	h := newHarness(t, &fakeProvider{}, Options{IdleTimeout: time.Minute})
	m := h.manager

	idle := h.session(t)
	busy := h.session(t)
	if _, err := busy.Prepare(context.Background(), PrepareRequest{Text: "keep playing"}); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := busy.Play(-1, true); err != nil {
		t.Fatalf("Play: %v", err)
	}

	if n := m.reapIdle(time.Now()); n != 0 {
		t.Fatalf("nothing should be idle yet, reaped %d", n)
	}
	if n := m.reapIdle(time.Now().Add(2 * time.Minute)); n != 1 {
		t.Fatalf("expected 1 reaped session, got %d", n)
	}
	if _, err := m.Get(idle.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatal("idle session should be gone")
	}
	if _, err := m.Get(busy.ID()); err != nil {
		t.Fatal("playing session must survive reaping")
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	opts := OptionsFromConfig(cfg).normalize()
	if opts.MaxChunkSize != 4000 || opts.Concurrency != 3 {
		t.Fatalf("unexpected chunk options %+v", opts)
	}
	if opts.PollInterval != 50*time.Millisecond || opts.AutoplayPolicy != playback.AutoplayGesture || !opts.AutoStart {
		t.Fatalf("unexpected playback options %+v", opts)
	}

	zero := Options{}.normalize()
	if zero.Concurrency != 1 || zero.MaxChunkSize <= 0 || zero.PollInterval <= 0 {
		t.Fatalf("normalize should fill defaults, got %+v", zero)
	}
}
