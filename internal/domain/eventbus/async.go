package eventbus

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"narrator-server-go/internal/platform/logging"

	evbus "github.com/asaskevich/EventBus"
)

// Bus is a per-session event bus. Publish never blocks and never runs
// handlers on the caller's goroutine: events are queued and delivered by one
// worker in publish order, so handlers may call back into the publisher.
type Bus struct {
	sessionID string
	bus       evbus.Bus
	logger    *logging.Logger

	mu     sync.Mutex
	queue  []Event
	closed bool
	notify chan struct{}
	done   chan struct{}

	// subs 仅由 worker 访问
	subs []*subscription
}

type subscription struct {
	topics []string
	fn     func(Event)
	active atomic.Bool
}

func (s *subscription) handle(ev Event) {
	if s.active.Load() {
		s.fn(ev)
	}
}

// New 创建并启动会话事件总线
func New(sessionID string, logger *logging.Logger) *Bus {
	b := &Bus{
		sessionID: sessionID,
		bus:       evbus.New(),
		logger:    logger,
		notify:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	go b.worker()
	return b
}

func (b *Bus) SessionID() string {
	return b.sessionID
}

// Subscribe registers fn for the given topics, or for every topic when none are
// given. The subscription sees every event published after the call. The
// returned function stops delivery immediately and is safe to call from a
// handler.
func (b *Bus) Subscribe(fn func(Event), topics ...string) (unsubscribe func()) {
	if len(topics) == 0 {
		topics = Topics
	}
	sub := &subscription{fn: fn}
	for _, topic := range topics {
		if !slices.Contains(sub.topics, topic) {
			sub.topics = append(sub.topics, topic)
		}
	}
	sub.active.Store(true)
	if !b.enqueue(Event{Type: subscribeTopic, Data: sub}) {
		return func() {}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.active.Store(false)
			b.enqueue(Event{Type: unsubscribeTopic, Data: sub})
		})
	}
}

// Publish 异步发布事件；总线关闭后静默丢弃
func (b *Bus) Publish(topic string, data any) {
	b.enqueue(Event{Type: topic, SessionID: b.sessionID, Data: data, Time: time.Now()})
}

func (b *Bus) enqueue(ev Event) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.queue = append(b.queue, ev)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return true
}

// Flush waits until every event published before the call has been delivered.
func (b *Bus) Flush() {
	marker := make(chan struct{})
	if !b.enqueue(Event{Type: flushTopic, Data: marker}) {
		<-b.done
		return
	}
	select {
	case <-marker:
	case <-b.done:
	}
}

// 内部控制事件，由 worker 按队列顺序处理
const (
	flushTopic       = "bus:flush"
	subscribeTopic   = "bus:subscribe"
	unsubscribeTopic = "bus:unsubscribe"
)

// Close delivers the remaining queued events and stops the worker.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		<-b.done
		return
	}
	b.closed = true
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
	<-b.done
}

// worker 单协程按顺序投递
func (b *Bus) worker() {
	defer close(b.done)
	for range b.notify {
		for {
			b.mu.Lock()
			batch := b.queue
			b.queue = nil
			closed := b.closed
			b.mu.Unlock()

			for _, ev := range batch {
				switch ev.Type {
				case flushTopic:
					close(ev.Data.(chan struct{}))
				case subscribeTopic:
					b.attach(ev.Data.(*subscription))
				case unsubscribeTopic:
					b.detach(ev.Data.(*subscription))
				default:
					b.dispatch(ev)
				}
			}
			if len(batch) == 0 {
				if closed {
					return
				}
				break
			}
		}
	}
}

func (b *Bus) dispatch(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.ErrorTag("朗读", "事件处理 panic topic=%s: %v", ev.Type, r)
		}
	}()
	b.bus.Publish(ev.Type, ev)
}

func (b *Bus) attach(sub *subscription) {
	b.subs = append(b.subs, sub)
	for _, topic := range sub.topics {
		_ = b.bus.Subscribe(topic, sub.handle)
	}
}

// detach removes sub from its topics. EventBus matches callbacks by code
// address, so every handle method value looks alike: each affected topic is
// emptied and rebuilt from the remaining subscriptions in their original order.
func (b *Bus) detach(sub *subscription) {
	registered := make(map[string]int, len(sub.topics))
	for _, s := range b.subs {
		for _, topic := range s.topics {
			registered[topic]++
		}
	}

	kept := b.subs[:0]
	for _, s := range b.subs {
		if s != sub {
			kept = append(kept, s)
		}
	}
	for i := len(kept); i < len(b.subs); i++ {
		b.subs[i] = nil
	}
	b.subs = kept

	for _, topic := range sub.topics {
		for i := 0; i < registered[topic]; i++ {
			_ = b.bus.Unsubscribe(topic, sub.handle)
		}
		for _, s := range b.subs {
			if slices.Contains(s.topics, topic) {
				_ = b.bus.Subscribe(topic, s.handle)
			}
		}
	}
}
