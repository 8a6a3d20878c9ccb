package playback

import (
	"errors"
	"sync"
	"testing"
	"time"

	"narrator-server-go/internal/domain/audio"
	"narrator-server-go/internal/domain/eventbus"
	"narrator-server-go/internal/domain/highlight"
	"narrator-server-go/internal/domain/text"
	"narrator-server-go/internal/domain/timeline"
	perrors "narrator-server-go/internal/platform/errors"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

type recorder struct {
	mu     sync.Mutex
	topics []string
	data   []any
}

func (r *recorder) Publish(topic string, data any) {
	r.mu.Lock()
	r.topics = append(r.topics, topic)
	r.data = append(r.data, data)
	r.mu.Unlock()
}

func (r *recorder) count(topic string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.topics {
		if t == topic {
			n++
		}
	}
	return n
}

func wordTiming(words []string) TimingFunc {
	return func(duration float64) Timing {
		axis := timeline.Estimate(len(words), duration)
		return Timing{
			Axis:   axis,
			Tracks: []*highlight.Track{highlight.NewTrack(highlight.GranularityWord, highlight.WordUnits(words, axis))},
		}
	}
}

func manyWords(n int) []string {
	words := make([]string, n)
	for i := range words {
		words[i] = "word"
	}
	return words
}

type fixture struct {
	clock    *fakeClock
	events   *recorder
	ctrl     *Controller
	released []string
}

func newFixture(policy AutoplayPolicy) *fixture {
	f := &fixture{clock: newFakeClock(), events: &recorder{}}
	player := NewClockPlayer(policy, f.clock.Now)
	f.ctrl = NewController(player, f.events, Options{
		// 轮询由测试手动驱动
		PollInterval: time.Hour,
		Release:      func(a *audio.Assembled) { f.released = append(f.released, a.ID) },
	}, nil)
	return f
}

func (f *fixture) load(t *testing.T, id string, duration float64, words []string) {
	t.Helper()
	token := f.ctrl.BeginLoading()
	if err := f.ctrl.Load(token, &audio.Assembled{ID: id, Duration: duration}, wordTiming(words)); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func (f *fixture) tick() bool {
	f.ctrl.mu.Lock()
	token := f.ctrl.loopToken
	f.ctrl.mu.Unlock()
	return f.ctrl.tick(token)
}

func TestSeekToHalfOfHundredWords(t *testing.T) {
	f := newFixture(AutoplayAllow)
	f.load(t, "a1", 50, manyWords(100))

	if err := f.ctrl.Seek(50); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if got := f.ctrl.CurrentTime(); got != 25 {
		t.Fatalf("expected currentTime 25, got %v", got)
	}
	want := f.ctrl.Axis().WordIndexAt(25)
	if got := f.ctrl.ActiveIndex(highlight.GranularityWord); got != want || want != 50 {
		t.Fatalf("expected active word %d (50), got %d", want, got)
	}
	if f.ctrl.State() != StatePlaying {
		t.Fatalf("seek should start playback, state=%s", f.ctrl.State())
	}
}

func TestSeekToEndFinishes(t *testing.T) {
	f := newFixture(AutoplayAllow)
	f.load(t, "a1", 50, manyWords(100))

	if err := f.ctrl.Seek(100); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if got := f.ctrl.CurrentTime(); got != 50 {
		t.Fatalf("expected currentTime 50, got %v", got)
	}
	if got := f.ctrl.ActiveIndex(highlight.GranularityWord); got != 99 {
		t.Fatalf("expected last word active, got %d", got)
	}
	if f.ctrl.State() != StateFinished {
		t.Fatalf("expected finished, got %s", f.ctrl.State())
	}
	if f.events.count(eventbus.EventPlaybackFinished) != 1 {
		t.Fatal("expected finished event")
	}

	// 从结尾拖回中间后继续播放
	if err := f.ctrl.Seek(50); err != nil {
		t.Fatalf("Seek back: %v", err)
	}
	if got := f.ctrl.CurrentTime(); got != 25 || f.ctrl.State() != StatePlaying {
		t.Fatalf("expected playing at 25, got %v state=%s", got, f.ctrl.State())
	}

	// 播放中拖到结尾同样结束，不再回到开头
	if err := f.ctrl.Seek(100); err != nil {
		t.Fatalf("Seek end while playing: %v", err)
	}
	if got := f.ctrl.CurrentTime(); got != 50 || f.ctrl.State() != StateFinished {
		t.Fatalf("expected finished at 50, got %v state=%s", got, f.ctrl.State())
	}
}

func TestAutoplayBlockedThenRetry(t *testing.T) {
	f := newFixture(AutoplayGesture)
	f.load(t, "a1", 10, manyWords(20))

	if err := f.ctrl.Play(false); err != nil {
		t.Fatalf("blocked play must not be an error: %v", err)
	}
	if f.ctrl.State() != StateBlocked {
		t.Fatalf("expected blocked, got %s", f.ctrl.State())
	}
	if f.events.count(eventbus.EventPlaybackBlocked) != 1 {
		t.Fatal("expected one blocked event")
	}
	if f.events.count(eventbus.EventPlaybackError) != 0 {
		t.Fatal("blocked must not publish an error")
	}

	// 未经用户操作的重试仍然被拦截
	if err := f.ctrl.Resume(false); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if f.ctrl.State() != StateBlocked {
		t.Fatalf("expected still blocked, got %s", f.ctrl.State())
	}

	if err := f.ctrl.RetryAfterGesture(); err != nil {
		t.Fatalf("RetryAfterGesture: %v", err)
	}
	if f.ctrl.State() != StatePlaying {
		t.Fatalf("expected playing, got %s", f.ctrl.State())
	}

	// 激活后无需再次手势
	if err := f.ctrl.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := f.ctrl.Play(false); err != nil || f.ctrl.State() != StatePlaying {
		t.Fatalf("expected playing after activation, state=%s err=%v", f.ctrl.State(), err)
	}
}

func TestPollingFiresUnitChangesOnlyOnChange(t *testing.T) {
	f := newFixture(AutoplayAllow)
	f.load(t, "a1", 10, manyWords(10))
	if err := f.ctrl.Play(false); err != nil {
		t.Fatalf("Play: %v", err)
	}
	base := f.events.count(eventbus.EventPlaybackUnit)
	if base != 1 {
		t.Fatalf("expected initial unit event, got %d", base)
	}

	for i := 0; i < 5; i++ {
		if !f.tick() {
			t.Fatal("loop stopped while playing")
		}
	}
	if got := f.events.count(eventbus.EventPlaybackUnit); got != base {
		t.Fatalf("no time passed, expected %d unit events, got %d", base, got)
	}

	f.clock.Advance(2500 * time.Millisecond)
	f.tick()
	if got := f.ctrl.ActiveIndex(highlight.GranularityWord); got != 2 {
		t.Fatalf("expected word 2 at 2.5s, got %d", got)
	}
	if got := f.events.count(eventbus.EventPlaybackUnit); got != base+1 {
		t.Fatalf("expected one more unit event, got %d", got-base)
	}
}

func TestPlaybackFinishesAtEndOfStream(t *testing.T) {
	f := newFixture(AutoplayAllow)
	f.load(t, "a1", 2, manyWords(4))
	if err := f.ctrl.Play(false); err != nil {
		t.Fatalf("Play: %v", err)
	}

	f.clock.Advance(3 * time.Second)
	if f.tick() {
		t.Fatal("loop should stop at end of stream")
	}
	if f.ctrl.State() != StateFinished {
		t.Fatalf("expected finished, got %s", f.ctrl.State())
	}
	if f.events.count(eventbus.EventPlaybackFinished) != 1 {
		t.Fatal("expected finished event")
	}
	if got := f.ctrl.ActiveIndex(highlight.GranularityWord); got != 3 {
		t.Fatalf("expected last word active at end, got %d", got)
	}

	// 结束后再次播放从头开始
	if err := f.ctrl.Play(false); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if got := f.ctrl.CurrentTime(); got != 0 {
		t.Fatalf("expected replay from 0, got %v", got)
	}
}

func TestPauseTearsDownLoop(t *testing.T) {
	f := newFixture(AutoplayAllow)
	f.load(t, "a1", 10, manyWords(10))
	_ = f.ctrl.Play(false)

	f.ctrl.mu.Lock()
	token := f.ctrl.loopToken
	f.ctrl.mu.Unlock()

	if err := f.ctrl.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if f.ctrl.tick(token) {
		t.Fatal("stale loop token kept polling after pause")
	}
	f.ctrl.mu.Lock()
	running := f.ctrl.stopLoop != nil
	f.ctrl.mu.Unlock()
	if running {
		t.Fatal("poll loop still registered after pause")
	}
	if !f.ctrl.IsPaused() {
		t.Fatal("IsPaused should be true")
	}
}

func TestStaleLoadIsDiscarded(t *testing.T) {
	f := newFixture(AutoplayAllow)
	first := f.ctrl.BeginLoading()
	second := f.ctrl.BeginLoading()

	err := f.ctrl.Load(first, &audio.Assembled{ID: "old", Duration: 5}, wordTiming(manyWords(3)))
	if !errors.Is(err, ErrStaleLoad) {
		t.Fatalf("expected ErrStaleLoad, got %v", err)
	}
	if f.ctrl.State() != StateLoading {
		t.Fatalf("stale load changed state to %s", f.ctrl.State())
	}
	if err := f.ctrl.Fail(first, errors.New("late failure"), true); !errors.Is(err, ErrStaleLoad) {
		t.Fatalf("expected stale failure to be discarded, got %v", err)
	}

	if err := f.ctrl.Load(second, &audio.Assembled{ID: "new", Duration: 5}, wordTiming(manyWords(3))); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap := f.ctrl.Snapshot(); snap.AudioID != "new" || snap.State != StateReady {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestPreviousAudioReleasedOnlyAfterReplacementReady(t *testing.T) {
	f := newFixture(AutoplayAllow)
	f.load(t, "a1", 5, manyWords(5))

	token := f.ctrl.BeginLoading()
	if len(f.released) != 0 {
		t.Fatalf("audio released while loading: %v", f.released)
	}
	if f.ctrl.Audio() == nil || f.ctrl.Audio().ID != "a1" {
		t.Fatal("previous audio should stay loaded during loading")
	}

	if err := f.ctrl.Load(token, &audio.Assembled{ID: "a2", Duration: 6}, wordTiming(manyWords(5))); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(f.released) != 1 || f.released[0] != "a1" {
		t.Fatalf("expected a1 released, got %v", f.released)
	}
	if f.ctrl.Duration() != 6 {
		t.Fatalf("expected duration 6, got %v", f.ctrl.Duration())
	}
}

func TestLoadFailureEntersError(t *testing.T) {
	f := newFixture(AutoplayAllow)
	token := f.ctrl.BeginLoading()

	err := f.ctrl.Load(token, &audio.Assembled{ID: "broken"}, nil)
	if err == nil || !perrors.IsKind(err, perrors.KindPlayback) {
		t.Fatalf("expected playback error, got %v", err)
	}
	if f.ctrl.State() != StateError || f.ctrl.Message() == "" {
		t.Fatalf("expected error state with message, got %s %q", f.ctrl.State(), f.ctrl.Message())
	}
	if !errors.Is(f.ctrl.Play(true), ErrNotReady) {
		t.Fatal("play without audio should report ErrNotReady")
	}
}

func TestFailPublishesRecoverableError(t *testing.T) {
	f := newFixture(AutoplayAllow)
	token := f.ctrl.BeginLoading()
	if err := f.ctrl.Fail(token, errors.New("upstream 503"), true); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if f.ctrl.State() != StateError {
		t.Fatalf("expected error, got %s", f.ctrl.State())
	}

	f.events.mu.Lock()
	defer f.events.mu.Unlock()
	var found bool
	for i, topic := range f.events.topics {
		if topic != eventbus.EventPlaybackError {
			continue
		}
		data := f.events.data[i].(eventbus.ErrorEventData)
		found = data.Recoverable && data.Message == "upstream 503"
	}
	if !found {
		t.Fatal("expected recoverable error event")
	}
}

func TestSeekToUnitUsesUnitStart(t *testing.T) {
	f := newFixture(AutoplayAllow)
	content := "First sentence here. Second sentence follows."
	words := text.Words(content)
	token := f.ctrl.BeginLoading()
	err := f.ctrl.Load(token, &audio.Assembled{ID: "a1", Duration: 8}, func(d float64) Timing {
		axis := timeline.Estimate(len(words), d)
		return Timing{Axis: axis, Tracks: []*highlight.Track{
			highlight.NewTrack(highlight.GranularityWord, highlight.WordUnits(words, axis)),
			highlight.NewTrack(highlight.GranularitySentence, highlight.SentenceUnits(content, d)),
		}}
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	units, ok := f.ctrl.Units(highlight.GranularitySentence)
	if !ok || len(units) != 2 {
		t.Fatalf("expected 2 sentence units, got %v", units)
	}
	if err := f.ctrl.SeekToUnit(highlight.GranularitySentence, 1); err != nil {
		t.Fatalf("SeekToUnit: %v", err)
	}
	if got := f.ctrl.CurrentTime(); got != units[1].Start {
		t.Fatalf("expected time %v, got %v", units[1].Start, got)
	}
	if got := f.ctrl.ActiveIndex(highlight.GranularitySentence); got != 1 {
		t.Fatalf("expected sentence 1 active, got %d", got)
	}
	if !errors.Is(f.ctrl.SeekToUnit(highlight.GranularitySentence, 5), highlight.ErrUnitOutOfRange) {
		t.Fatal("expected out of range error")
	}
	if err := f.ctrl.SeekToUnit(highlight.GranularitySegment, 0); !perrors.IsKind(err, perrors.KindNotFound) {
		t.Fatalf("expected not found for missing track, got %v", err)
	}
}

func TestStopRewindsToReady(t *testing.T) {
	f := newFixture(AutoplayAllow)
	f.load(t, "a1", 10, manyWords(10))
	_ = f.ctrl.Play(false)
	f.clock.Advance(4 * time.Second)

	if err := f.ctrl.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if f.ctrl.State() != StateReady || f.ctrl.CurrentTime() != 0 {
		t.Fatalf("expected ready at 0, got %s at %v", f.ctrl.State(), f.ctrl.CurrentTime())
	}
	if f.ctrl.ActiveIndex(highlight.GranularityWord) != -1 {
		t.Fatal("tracks should be reset after stop")
	}
	if !errors.Is(f.ctrl.Resume(true), ErrInvalidTransition) {
		t.Fatal("resume from ready should be an invalid transition")
	}
}

func TestCloseReleasesAudio(t *testing.T) {
	f := newFixture(AutoplayAllow)
	f.load(t, "a1", 10, manyWords(10))
	f.ctrl.Close()

	if len(f.released) != 1 || f.released[0] != "a1" {
		t.Fatalf("expected a1 released on close, got %v", f.released)
	}
	if f.ctrl.State() != StateIdle || f.ctrl.Audio() != nil {
		t.Fatal("controller should be idle without audio after close")
	}
}
