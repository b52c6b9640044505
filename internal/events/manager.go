package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/technosupport/guardcar/internal/metrics"
)

const reconnectWait = 5 * time.Second

// Manager owns the single broker connection a process shares across all its
// producers and consumers. Streams are declared durable on connect; a lost
// connection is retried every 5 seconds forever.
type Manager struct {
	name   string
	url    string
	queues []QueueSpec

	mu   sync.RWMutex
	nc   *nats.Conn
	js   nats.JetStreamContext
	subs []*nats.Subscription

	producers map[string]*producer
	closed    chan struct{}
	closeOnce sync.Once
}

// NewManager prepares a manager for the given broker URL and queue set. Call
// Connect before publishing.
func NewManager(name, url string, queues []QueueSpec) *Manager {
	return &Manager{
		name:      name,
		url:       url,
		queues:    queues,
		producers: make(map[string]*producer),
		closed:    make(chan struct{}),
	}
}

// Connect dials the broker, blocking until it succeeds or ctx is cancelled.
// Every registered queue is declared as a durable work-queue stream; lossy
// queues get their TTL as the stream MaxAge so unconsumed messages expire on
// the broker.
func (m *Manager) Connect(ctx context.Context) error {
	for {
		nc, err := nats.Connect(m.url,
			nats.Name(m.name),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(reconnectWait),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				metrics.SetBrokerConnected(false)
				log.Printf("[Events] broker connection lost: %v", err)
			}),
			nats.ReconnectHandler(func(_ *nats.Conn) {
				metrics.SetBrokerConnected(true)
				log.Printf("[Events] broker reconnected")
			}),
		)
		if err == nil {
			js, jsErr := nc.JetStream()
			if jsErr == nil {
				if decErr := m.declareStreams(js); decErr == nil {
					m.mu.Lock()
					m.nc = nc
					m.js = js
					m.mu.Unlock()
					metrics.SetBrokerConnected(true)
					log.Printf("[Events] connected to %s, %d queues declared", m.url, len(m.queues))
					return nil
				} else {
					err = decErr
				}
			} else {
				err = jsErr
			}
			nc.Close()
		}

		log.Printf("[Events] broker connect failed: %v, retrying in %s", err, reconnectWait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.closed:
			return nats.ErrConnectionClosed
		case <-time.After(reconnectWait):
		}
	}
}

func (m *Manager) declareStreams(js nats.JetStreamContext) error {
	for _, q := range m.queues {
		cfg := &nats.StreamConfig{
			Name:      q.Name,
			Subjects:  []string{q.Subject()},
			Retention: nats.WorkQueuePolicy,
			Storage:   nats.FileStorage,
			MaxAge:    q.TTL,
		}
		if _, err := js.AddStream(cfg); err != nil {
			if _, upErr := js.UpdateStream(cfg); upErr != nil {
				return fmt.Errorf("declare stream %s: %w", q.Name, err)
			}
		}
	}
	return nil
}

// Publish marshals v and publishes it synchronously. Control-plane callers
// use this; the hot path goes through TryPublish.
func (m *Manager) Publish(queue string, v any) error {
	m.mu.RLock()
	js := m.js
	m.mu.RUnlock()
	if js == nil {
		return nats.ErrConnectionClosed
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", queue, err)
	}
	if _, err := js.Publish(Subject(queue), data); err != nil {
		return fmt.Errorf("publish %s: %w", queue, err)
	}
	metrics.RecordPublish(queue)
	return nil
}

// TryPublish enqueues v on the queue's bounded producer channel and returns
// immediately; the oldest pending message is dropped on overflow. The frame
// pump must never block on the broker.
func (m *Manager) TryPublish(queue string, v any) {
	m.mu.Lock()
	p, ok := m.producers[queue]
	if !ok {
		p = newProducer(m, queue)
		m.producers[queue] = p
	}
	m.mu.Unlock()
	p.enqueue(v)
}

// Consume attaches a durable explicit-ack consumer to the queue. The handler
// runs on the subscription goroutine; messages are acked after it returns
// regardless of outcome (malformed or failed messages are logged and
// dropped, never redelivered forever).
func (m *Manager) Consume(queue, durable string, handler func(data []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.js == nil {
		return nats.ErrConnectionClosed
	}
	sub, err := m.js.Subscribe(Subject(queue), func(msg *nats.Msg) {
		handler(msg.Data)
		if err := msg.Ack(); err != nil {
			log.Printf("[Events] ack on %s failed: %v", queue, err)
		}
	}, nats.Durable(durable), nats.ManualAck(), nats.AckExplicit())
	if err != nil {
		return fmt.Errorf("consume %s: %w", queue, err)
	}
	m.subs = append(m.subs, sub)
	return nil
}

// Close stops the producers, drains the subscriptions and closes the
// connection.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.closed)
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.producers {
		p.stop()
	}
	for _, s := range m.subs {
		_ = s.Unsubscribe()
	}
	m.subs = nil
	if m.nc != nil {
		m.nc.Close()
		m.nc = nil
		m.js = nil
	}
	metrics.SetBrokerConnected(false)
}

// producer drains a bounded channel into the broker on its own goroutine so
// the frame path never waits on a publish.
type producer struct {
	m     *Manager
	queue string
	ch    chan any
	done  chan struct{}
}

const producerDepth = 64

func newProducer(m *Manager, queue string) *producer {
	p := &producer{
		m:     m,
		queue: queue,
		ch:    make(chan any, producerDepth),
		done:  make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *producer) enqueue(v any) {
	for {
		select {
		case p.ch <- v:
			return
		default:
		}
		select {
		case <-p.ch:
			metrics.RecordQueueDrop(p.queue)
		default:
		}
	}
}

func (p *producer) run() {
	for {
		select {
		case <-p.done:
			return
		case v := <-p.ch:
			if err := p.m.Publish(p.queue, v); err != nil {
				metrics.RecordQueueDrop(p.queue)
				log.Printf("[Events] publish %s dropped: %v", p.queue, err)
			}
		}
	}
}

func (p *producer) stop() {
	select {
	case <-p.done:
	default:
		close(p.done)
	}
}
