package docstore

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-redis/redis"
)

// Broker carries change notifications between writers and live watches.
// A notification only says that a topic changed; watchers re-read the
// current state, so notifications may be coalesced.
type Broker interface {
	Publish(topic string) error
	Subscribe(topic string) (Subscription, error)
	Close() error
}

type Subscription interface {
	C() <-chan struct{}
	Close() error
}

func ConversationTopic(id string) string { return "conversation/" + id }

func MembershipTopic(userID string) string { return "membership/" + userID }

var ErrBrokerClosed = errors.New("broker closed")

// MemoryBroker fans notifications out inside one process.
type MemoryBroker struct {
	mu     sync.Mutex
	subs   map[string]map[*memorySubscription]struct{}
	closed bool
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string]map[*memorySubscription]struct{})}
}

func (b *MemoryBroker) Publish(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}
	for sub := range b.subs[topic] {
		sub.notify()
	}
	return nil
}

func (b *MemoryBroker) Subscribe(topic string) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBrokerClosed
	}
	sub := &memorySubscription{
		broker: b,
		topic:  topic,
		ch:     make(chan struct{}, 1),
	}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[*memorySubscription]struct{})
	}
	b.subs[topic][sub] = struct{}{}
	return sub, nil
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[string]map[*memorySubscription]struct{})
	return nil
}

func (b *MemoryBroker) remove(sub *memorySubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subs[sub.topic]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(b.subs, sub.topic)
		}
	}
}

type memorySubscription struct {
	broker *MemoryBroker
	topic  string
	ch     chan struct{}
	once   sync.Once
}

// notify never blocks: a pending notification already covers this one.
func (s *memorySubscription) notify() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

func (s *memorySubscription) C() <-chan struct{} { return s.ch }

func (s *memorySubscription) Close() error {
	s.once.Do(func() { s.broker.remove(s) })
	return nil
}

// RedisBroker relays notifications through Redis PUBLISH/SUBSCRIBE so that
// several server instances sharing one database see each other's writes.
type RedisBroker struct {
	client *redis.Client
	prefix string
}

func NewRedisBroker(addr string) (*RedisBroker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: "",
		DB:       0,
	})
	if _, err := client.Ping().Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to reach redis at %s: %w", addr, err)
	}
	return &RedisBroker{client: client, prefix: "livechat:"}, nil
}

func (b *RedisBroker) Publish(topic string) error {
	if err := b.client.Publish(b.prefix+topic, "changed").Err(); err != nil {
		return fmt.Errorf("failed to publish %s: %w", topic, err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(topic string) (Subscription, error) {
	pubsub := b.client.Subscribe(b.prefix + topic)
	// Wait for the confirmation so no publish issued after Subscribe
	// returns can be missed.
	if _, err := pubsub.Receive(); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		ch:     make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go sub.forward()
	return sub, nil
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}

type redisSubscription struct {
	pubsub *redis.PubSub
	ch     chan struct{}
	done   chan struct{}
	once   sync.Once
}

func (s *redisSubscription) forward() {
	messages := s.pubsub.Channel()
	for {
		select {
		case <-s.done:
			return
		case _, ok := <-messages:
			if !ok {
				return
			}
			select {
			case s.ch <- struct{}{}:
			default:
			}
		}
	}
}

func (s *redisSubscription) C() <-chan struct{} { return s.ch }

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}
