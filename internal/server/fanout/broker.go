package fanout

import (
	"context"
	"fmt"
	"path"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Broker is a shared publish/subscribe channel between server instances.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe delivers payloads published on channels matching pattern
	// (glob syntax) until the subscription is closed.
	Subscribe(ctx context.Context, pattern string) (Subscription, error)
}

type Subscription interface {
	Messages() <-chan []byte
	Close() error
}

// RedisBroker uses Redis PUBLISH / PSUBSCRIBE.
type RedisBroker struct {
	client redis.UniversalClient
}

func NewRedisBroker(client redis.UniversalClient) *RedisBroker {
	return &RedisBroker{client: client}
}

func (b *RedisBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, pattern string) (Subscription, error) {
	ps := b.client.PSubscribe(ctx, pattern)
	// Wait for the subscribe confirmation so nothing published after we
	// return is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis psubscribe: %w", err)
	}
	sub := &redisSubscription{ps: ps, out: make(chan []byte, redisBufferSize), done: make(chan struct{})}
	go sub.pump()
	return sub, nil
}

// redisBufferSize is the per-subscription queue between the Redis reader
// and the relay.
var redisBufferSize = 256

type redisSubscription struct {
	ps        *redis.PubSub
	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (s *redisSubscription) pump() {
	defer close(s.out)
	ch := s.ps.Channel()
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			select {
			case s.out <- []byte(msg.Payload):
			case <-s.done:
				return
			}
		}
	}
}

func (s *redisSubscription) Messages() <-chan []byte { return s.out }

func (s *redisSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}

// MemoryBroker connects instances living in one process.
type MemoryBroker struct {
	mu   sync.RWMutex
	subs map[*memorySubscription]struct{}
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[*memorySubscription]struct{})}
}

func (b *MemoryBroker) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if ok, _ := path.Match(s.pattern, channel); !ok {
			continue
		}
		msg := append([]byte(nil), payload...)
		select {
		case s.out <- msg:
		default:
			// slow subscriber; drop like Redis does for lagging clients
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(_ context.Context, pattern string) (Subscription, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
	}
	s := &memorySubscription{broker: b, pattern: pattern, out: make(chan []byte, 256)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s, nil
}

type memorySubscription struct {
	broker  *MemoryBroker
	pattern string
	out     chan []byte
	once    sync.Once
}

func (s *memorySubscription) Messages() <-chan []byte { return s.out }

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.broker.mu.Lock()
		delete(s.broker.subs, s)
		s.broker.mu.Unlock()
		close(s.out)
	})
	return nil
}
