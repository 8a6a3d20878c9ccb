// Package reading owns reading sessions: one Engine per session turns text
// into assembled audio and drives its playback controller.
package reading

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"narrator-server-go/internal/domain/audio"
	"narrator-server-go/internal/domain/eventbus"
	"narrator-server-go/internal/domain/highlight"
	"narrator-server-go/internal/domain/playback"
	"narrator-server-go/internal/domain/rewrite"
	"narrator-server-go/internal/domain/text"
	"narrator-server-go/internal/domain/timeline"
	"narrator-server-go/internal/domain/tts"
	"narrator-server-go/internal/platform/errors"
	"narrator-server-go/internal/platform/logging"
	"narrator-server-go/internal/platform/observability"

	"golang.org/x/sync/errgroup"
)

// 准备阶段
const (
	PhaseClean      = "clean"
	PhaseRewrite    = "rewrite"
	PhaseSynthesize = "synthesize"
	PhaseAssemble   = "assemble"
	PhaseReady      = "ready"
)

// Engine is one reading session. It is safe for concurrent use.
type Engine struct {
	id        string
	bus       *eventbus.Bus
	ctrl      *playback.Controller
	synth     *tts.Synthesizer
	assembler *audio.Assembler
	rewriter  rewrite.Rewriter
	defaults  tts.Settings
	opts      Options
	logger    *logging.Logger

	mu         sync.Mutex
	cancel     context.CancelFunc
	settings   tts.Settings
	chunks     int
	words      int
	title      string
	byline     string
	rewritten  bool
	preparedAt *time.Time

	lastActive atomic.Int64
	closed     atomic.Bool
}

func newEngine(id string, deps Dependencies, opts Options, logger *logging.Logger) *Engine {
	bus := eventbus.New(id, logger)
	var player playback.Player
	if deps.NewPlayer != nil {
		player = deps.NewPlayer()
	} else {
		player = playback.NewClockPlayer(opts.AutoplayPolicy, nil)
	}
	library := deps.Assembler.Library()
	ctrl := playback.NewController(player, bus, playback.Options{
		PollInterval: opts.PollInterval,
		Release:      func(a *audio.Assembled) { library.Release(a.ID) },
	}, logger)

	e := &Engine{
		id:        id,
		bus:       bus,
		ctrl:      ctrl,
		synth:     deps.Synthesizer,
		assembler: deps.Assembler,
		rewriter:  deps.Rewriter,
		defaults:  deps.Defaults,
		opts:      opts,
		logger:    logger,
	}
	e.touch()
	return e
}

func (e *Engine) ID() string {
	return e.id
}

func (e *Engine) touch() {
	e.lastActive.Store(time.Now().UnixNano())
}

// LastActive 最近一次调用时间
func (e *Engine) LastActive() time.Time {
	return time.Unix(0, e.lastActive.Load())
}

// Prepare converts text into playable audio. A newer Prepare on the same
// session cancels this one; the superseded call returns a result with
// Superseded set and no error.
func (e *Engine) Prepare(ctx context.Context, req PrepareRequest) (res *PrepareResult, err error) {
	if e.closed.Load() {
		return nil, ErrSessionClosed
	}
	e.touch()

	settings := req.settings().WithDefaults(e.defaults)
	if err := settings.Validate(); err != nil {
		return nil, errors.Wrap(errors.KindDomain, "reading.prepare", "invalid voice settings", err)
	}

	content := req.Text
	if looksLikeHTML(content) {
		content = text.StripHTML(content)
	} else {
		content = strings.TrimSpace(text.RemoveControlCharacters(content))
	}
	if content == "" {
		return nil, errors.New(errors.KindDomain, "reading.prepare", "text is empty")
	}

	// 先取得新令牌，再取消旧的准备，旧请求的失败一定被判定为过期
	token := e.ctrl.BeginLoading()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	e.cancel = cancel
	e.mu.Unlock()

	ctx, end := observability.StartSpan(ctx, "reading", "prepare")
	defer func() { end(err) }()
	start := time.Now()

	e.progress(PhaseClean, 0, 0, 0)
	result := &rewrite.Result{Text: content}
	rewritten := false
	if req.Rewrite && e.rewriter != nil {
		e.progress(PhaseRewrite, 5, 0, 0)
		result, rewritten = rewrite.Apply(ctx, e.rewriter, content, e.logger)
		content = result.Text
	}

	chunks := text.Chunk(content, e.opts.MaxChunkSize)
	if len(chunks) == 0 {
		return e.fail(token, errors.New(errors.KindDomain, "reading.prepare", "text is empty after cleaning"))
	}
	e.logger.InfoTag("朗读", "开始准备 session=%s 字数=%d 分块=%d voice=%s speed=%.2f",
		e.id, len([]rune(content)), len(chunks), settings.Voice, settings.Speed)

	buffers, err := e.synthesizeAll(ctx, chunks, settings)
	if err != nil {
		return e.fail(token, err)
	}

	e.progress(PhaseAssemble, 90, len(chunks), len(chunks))
	assembled, err := e.assembler.Assemble(buffers)
	if err != nil {
		return e.fail(token, err)
	}

	words := text.Words(content)
	segments := req.Segments
	build := func(duration float64) playback.Timing {
		return buildTiming(content, words, segments, duration)
	}
	if err := e.ctrl.Load(token, assembled, build); err != nil {
		if stderrors.Is(err, playback.ErrStaleLoad) {
			e.assembler.Library().Release(assembled.ID)
			e.logger.DebugTag("朗读", "丢弃过期的准备结果 session=%s", e.id)
			return &PrepareResult{Superseded: true}, nil
		}
		return nil, err
	}

	now := time.Now()
	e.mu.Lock()
	if e.ctrl.Audio() == assembled {
		e.settings = settings
		e.chunks = len(chunks)
		e.words = len(words)
		e.title = result.Title
		e.byline = result.Byline
		e.rewritten = rewritten
		e.preparedAt = &now
	}
	e.mu.Unlock()

	res = &PrepareResult{
		AudioID:   assembled.ID,
		Text:      content,
		Duration:  assembled.Duration,
		Chunks:    len(chunks),
		Words:     len(words),
		Title:     result.Title,
		Byline:    result.Byline,
		Rewritten: rewritten,
	}
	e.progress(PhaseReady, 100, len(chunks), len(chunks))
	e.bus.Publish(eventbus.EventReadingReady, *res)
	e.logger.InfoTag("朗读", "准备完成 session=%s 时长=%.2fs 耗时=%v", e.id, assembled.Duration, time.Since(start))

	if e.opts.AutoStart {
		if err := e.ctrl.Play(false); err != nil {
			e.logger.WarnTag("播放", "自动播放失败 session=%s: %v", e.id, err)
		}
	}
	res.State = string(e.ctrl.State())
	return res, nil
}

// synthesizeAll synthesizes chunks with bounded concurrency and returns the
// buffers in chunk order.
func (e *Engine) synthesizeAll(ctx context.Context, chunks []text.TextChunk, settings tts.Settings) ([]*audio.Buffer, error) {
	total := len(chunks)
	buffers := make([]*audio.Buffer, total)
	var (
		mu   sync.Mutex
		done int
	)

	e.progress(PhaseSynthesize, 10, 0, total)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)
	for _, chunk := range chunks {
		g.Go(func() error {
			buf, err := e.synth.Synthesize(gctx, chunk, settings)
			if err != nil {
				return err
			}
			// 进度按完成顺序单调递增
			mu.Lock()
			buffers[chunk.Index] = buf
			done++
			e.progress(PhaseSynthesize, 10+80*float64(done)/float64(total), done, total)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return buffers, nil
}

func (e *Engine) fail(token uint64, err error) (*PrepareResult, error) {
	recoverable := false
	if se, ok := tts.AsSynthesisError(err); ok {
		recoverable = se.Recoverable()
	}
	if stderrors.Is(e.ctrl.Fail(token, err, recoverable), playback.ErrStaleLoad) {
		e.logger.DebugTag("朗读", "丢弃过期的失败结果 session=%s: %v", e.id, err)
		return &PrepareResult{Superseded: true}, nil
	}
	e.logger.ErrorTag("朗读", "准备失败 session=%s: %v", e.id, err)
	return nil, err
}

func (e *Engine) progress(phase string, percent float64, done, total int) {
	e.bus.Publish(eventbus.EventReadingProgress, eventbus.ProgressEventData{
		Phase:   phase,
		Percent: percent,
		Done:    done,
		Total:   total,
	})
}

// buildTiming 在真实时长已知后构建词时间轴和各粒度的高亮轨道
func buildTiming(content string, words []string, segments []highlight.Segment, duration float64) playback.Timing {
	axis := timeline.Estimate(len(words), duration)
	tracks := []*highlight.Track{
		highlight.NewTrack(highlight.GranularityWord, highlight.WordUnits(words, axis)),
		highlight.NewTrack(highlight.GranularitySentence, highlight.SentenceUnits(content, duration)),
		highlight.NewTrack(highlight.GranularityParagraph, highlight.ParagraphUnits(content, duration)),
	}
	if len(segments) > 0 {
		tracks = append(tracks, highlight.NewTrack(highlight.GranularitySegment, highlight.SegmentUnits(segments)))
	}
	return playback.Timing{Axis: axis, Tracks: tracks}
}

// Play starts playback. With startUnit >= 0 playback starts at that word.
func (e *Engine) Play(startUnit int, gesture bool) error {
	e.touch()
	if startUnit < 0 {
		return e.ctrl.Play(gesture)
	}
	axis := e.ctrl.Axis()
	if startUnit >= axis.Len() {
		return errors.Wrap(errors.KindDomain, "reading.play", fmt.Sprintf("start unit %d out of range", startUnit), highlight.ErrUnitOutOfRange)
	}
	return e.ctrl.PlayFrom(axis.TimeAt(startUnit), gesture)
}

func (e *Engine) Pause() error {
	e.touch()
	return e.ctrl.Pause()
}

func (e *Engine) Resume(gesture bool) error {
	e.touch()
	return e.ctrl.Resume(gesture)
}

// RetryAfterGesture resumes a blocked session after a user gesture.
func (e *Engine) RetryAfterGesture() error {
	e.touch()
	return e.ctrl.RetryAfterGesture()
}

func (e *Engine) Stop() error {
	e.touch()
	return e.ctrl.Stop()
}

// Seek 按百分比跳转（0-100）
func (e *Engine) Seek(percent float64) error {
	e.touch()
	return e.ctrl.Seek(percent)
}

// SeekToUnit seeks to the start of unit index of granularity g.
func (e *Engine) SeekToUnit(g highlight.Granularity, index int) error {
	e.touch()
	err := e.ctrl.SeekToUnit(g, index)
	if stderrors.Is(err, highlight.ErrUnitOutOfRange) {
		return errors.Wrap(errors.KindDomain, "reading.seek_unit", fmt.Sprintf("%s unit %d out of range", g, index), err)
	}
	return err
}

func (e *Engine) CurrentTime() float64 {
	return e.ctrl.CurrentTime()
}

func (e *Engine) Duration() float64 {
	return e.ctrl.Duration()
}

func (e *Engine) IsPaused() bool {
	return e.ctrl.IsPaused()
}

func (e *Engine) State() playback.State {
	return e.ctrl.State()
}

// Units returns the highlight units of granularity g for the loaded audio.
func (e *Engine) Units(g highlight.Granularity) ([]highlight.Unit, error) {
	units, ok := e.ctrl.Units(g)
	if !ok {
		return nil, errors.Newf(errors.KindNotFound, "reading.units", "no %s units available", g)
	}
	return units, nil
}

// DownloadAudio returns the loaded audio and a file name for it.
func (e *Engine) DownloadAudio() (*audio.Assembled, string, error) {
	e.touch()
	a := e.ctrl.Audio()
	if a == nil || a.Released() {
		return nil, "", playback.ErrNotReady
	}
	ext := "mp3"
	if i := strings.LastIndex(a.MIMEType, "/"); i >= 0 && a.MIMEType != audio.MIMEMpeg {
		ext = a.MIMEType[i+1:]
	}
	short := a.ID
	if len(short) > 8 {
		short = short[:8]
	}
	return a, fmt.Sprintf("narration-%s.%s", short, ext), nil
}

// Subscribe registers fn for the given topics of this session's events.
func (e *Engine) Subscribe(fn func(eventbus.Event), topics ...string) func() {
	return e.bus.Subscribe(fn, topics...)
}

func (e *Engine) OnStateChange(fn func(eventbus.StateEventData)) func() {
	return e.bus.Subscribe(func(ev eventbus.Event) {
		if d, ok := ev.Data.(eventbus.StateEventData); ok {
			fn(d)
		}
	}, eventbus.EventPlaybackState)
}

// OnUnitChange 活动单元变化回调
func (e *Engine) OnUnitChange(fn func(eventbus.UnitEventData)) func() {
	return e.bus.Subscribe(func(ev eventbus.Event) {
		if d, ok := ev.Data.(eventbus.UnitEventData); ok {
			fn(d)
		}
	}, eventbus.EventPlaybackUnit)
}

func (e *Engine) OnProgress(fn func(eventbus.ProgressEventData)) func() {
	return e.bus.Subscribe(func(ev eventbus.Event) {
		if d, ok := ev.Data.(eventbus.ProgressEventData); ok {
			fn(d)
		}
	}, eventbus.EventReadingProgress)
}

func (e *Engine) OnError(fn func(eventbus.ErrorEventData)) func() {
	return e.bus.Subscribe(func(ev eventbus.Event) {
		if d, ok := ev.Data.(eventbus.ErrorEventData); ok {
			fn(d)
		}
	}, eventbus.EventPlaybackError)
}

func (e *Engine) OnFinished(fn func()) func() {
	return e.bus.Subscribe(func(eventbus.Event) { fn() }, eventbus.EventPlaybackFinished)
}

// Flush waits until every event published so far has been delivered.
func (e *Engine) Flush() {
	e.bus.Flush()
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		SessionID:  e.id,
		Playback:   e.ctrl.Snapshot(),
		Settings:   e.settings,
		Title:      e.title,
		Byline:     e.byline,
		Chunks:     e.chunks,
		Words:      e.words,
		Rewritten:  e.rewritten,
		PreparedAt: e.preparedAt,
		LastActive: e.LastActive(),
	}
}

// Close cancels any prepare in flight, releases the audio and drains the
// event bus. It is idempotent.
func (e *Engine) Close() {
	if !e.closed.CompareAndSwap(false, true) {
		return
	}
	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	e.mu.Unlock()

	e.ctrl.Close()
	e.bus.Publish(eventbus.EventSessionClosed, nil)
	e.bus.Close()
	e.logger.InfoTag("朗读", "会话已关闭 session=%s", e.id)
}
