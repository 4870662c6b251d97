package channel

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/yanun0323/logs"

	"main/pkg/exception"
)

// SubscriberFunc receives envelopes routed by type.
type SubscriberFunc func(Envelope)

type subscription struct {
	topic    string
	callback SubscriberFunc
}

// Dispatcher fans decoded envelopes out to topic subscribers regardless of
// which transport produced them. Duplicate eventIds within the dedup
// window are dropped exactly here, which is what makes hand-offs between
// the socket and polling safe.
type Dispatcher struct {
	mu     sync.Mutex
	subs   map[string][]*subscription
	seen   *expirable.LRU[string, struct{}]
	closed bool
	hooks  Hooks
}

// NewDispatcher creates a dispatcher whose seen-eventId set holds at most
// size entries for ttl. The recommended ttl is twice the poll interval.
func NewDispatcher(size int, ttl time.Duration) *Dispatcher {
	if size <= 0 {
		size = defaultDedupSize
	}
	return &Dispatcher{
		subs: make(map[string][]*subscription),
		seen: expirable.NewLRU[string, struct{}](size, nil, ttl),
	}
}

func (d *Dispatcher) setHooks(hooks Hooks) {
	d.mu.Lock()
	d.hooks = hooks
	d.mu.Unlock()
}

// Subscribe registers a callback for a topic and returns its cancel
// function. Identical callbacks are not deduplicated; each registration
// is delivered to independently, in registration order.
func (d *Dispatcher) Subscribe(topic string, callback SubscriberFunc) (func(), error) {
	if d == nil {
		return nil, exception.ErrNilInstance
	}
	if topic == "" || callback == nil {
		return nil, exception.ErrInvalidSubscription
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, exception.ErrChannelClosed
	}

	sub := &subscription{topic: topic, callback: callback}
	d.subs[topic] = append(d.subs[topic], sub)

	var once sync.Once
	return func() {
		once.Do(func() {
			d.remove(sub)
		})
	}, nil
}

// Publish delivers the envelope synchronously to every subscriber of its
// type, isolating subscriber panics. Reserved heartbeat envelopes and
// duplicate eventIds are silently dropped.
func (d *Dispatcher) Publish(env Envelope) {
	if d == nil {
		return
	}
	if env.Type == TypeHeartbeat {
		return
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	if env.EventID != "" {
		if _, dup := d.seen.Get(env.EventID); dup {
			hook := d.hooks.DedupDropped
			d.mu.Unlock()
			if hook != nil {
				hook(env.EventID)
			}
			return
		}
		d.seen.Add(env.EventID, struct{}{})
	}
	targets := make([]*subscription, len(d.subs[env.Type]))
	copy(targets, d.subs[env.Type])
	published := d.hooks.Published
	d.mu.Unlock()

	for _, sub := range targets {
		invoke(sub.callback, env)
	}
	if published != nil {
		published(env.Type)
	}
}

// Close drops all subscriptions. Further Subscribe calls fail with
// ErrChannelClosed and further Publish calls are ignored.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		d.subs = make(map[string][]*subscription)
		d.seen.Purge()
	}
	d.mu.Unlock()
}

// SubscriberCount returns the number of live registrations for a topic.
func (d *Dispatcher) SubscriberCount(topic string) int {
	if d == nil {
		return 0
	}
	d.mu.Lock()
	count := len(d.subs[topic])
	d.mu.Unlock()
	return count
}

func (d *Dispatcher) remove(sub *subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := d.subs[sub.topic]
	for i, existing := range list {
		if existing == sub {
			list = append(list[:i], list[i+1:]...)
			if len(list) == 0 {
				delete(d.subs, sub.topic)
			} else {
				d.subs[sub.topic] = list
			}
			return
		}
	}
}

func invoke(callback SubscriberFunc, env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			logs.Errorf("subscriber panic, topic: %s, err: %+v", env.Type, r)
		}
	}()
	callback(env)
}
