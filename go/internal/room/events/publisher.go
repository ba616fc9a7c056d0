package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/studysync/go/internal/room"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

type JetStreamConfig struct {
	URL             string
	StreamName      string
	SubjectPrefix   string
	MaxReconnects   int
	ReconnectWait   time.Duration
	MaxAge          time.Duration
	MaxMsgs         int64
	Replicas        int
	DuplicateWindow time.Duration
	MaxPending      int
	// QueueSize bounds activity waiting for the publish goroutine. Activity
	// beyond it is dropped.
	QueueSize int
}

func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		URL:             nats.DefaultURL,
		StreamName:      "STUDY_ROOM_EVENTS",
		SubjectPrefix:   "study.rooms",
		MaxReconnects:   -1, // Infinite
		ReconnectWait:   2 * time.Second,
		MaxAge:          72 * time.Hour,
		MaxMsgs:         -1,
		Replicas:        1,
		DuplicateWindow: 2 * time.Minute,
		MaxPending:      1024,
		QueueSize:       1024,
	}
}

// msgPublisher is the part of jetstream.JetStream the publish goroutine uses.
type msgPublisher interface {
	PublishMsgAsync(msg *nats.Msg, opts ...jetstream.PublishOpt) (jetstream.PubAckFuture, error)
}

// JetStreamPublisher ships room activity to a JetStream stream.
// PublishActivity never blocks: activity goes through a bounded queue to a
// single publish goroutine and is dropped when the queue is full. Publish
// failures are logged.
type JetStreamPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	pub    msgPublisher
	config JetStreamConfig

	mu      sync.RWMutex
	closed  bool
	queue   chan room.Activity
	done    chan struct{}
	dropped atomic.Int64
}

func NewJetStreamPublisher(cfg JetStreamConfig) (*JetStreamPublisher, error) {
	opts := []nats.Option{
		nats.Name("study-room-gateway"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc,
		jetstream.WithPublishAsyncMaxPending(cfg.MaxPending),
		jetstream.WithPublishAsyncErrHandler(func(_ jetstream.JetStream, msg *nats.Msg, err error) {
			log.Error().
				Err(err).
				Str("subject", msg.Subject).
				Str("event_id", msg.Header.Get(nats.MsgIdHdr)).
				Msg("failed to publish room activity")
		}),
	)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	p := &JetStreamPublisher{nc: nc, js: js, pub: js, config: cfg}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.ensureStream(ctx); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	p.start()
	return p, nil
}

func newPublisher(cfg JetStreamConfig, pub msgPublisher) *JetStreamPublisher {
	p := &JetStreamPublisher{pub: pub, config: cfg}
	p.start()
	return p
}

func (p *JetStreamPublisher) start() {
	size := p.config.QueueSize
	if size <= 0 {
		size = DefaultJetStreamConfig().QueueSize
	}
	p.queue = make(chan room.Activity, size)
	p.done = make(chan struct{})
	go p.drain()
}

func (p *JetStreamPublisher) drain() {
	defer close(p.done)
	for a := range p.queue {
		p.send(a)
	}
}

func (p *JetStreamPublisher) streamConfig() jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:        p.config.StreamName,
		Description: "Study room activity",
		Subjects:    []string{fmt.Sprintf("%s.>", p.config.SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      p.config.MaxAge,
		MaxMsgs:     p.config.MaxMsgs,
		Storage:     jetstream.FileStorage,
		Replicas:    p.config.Replicas,
		Duplicates:  p.config.DuplicateWindow,
	}
}

func (p *JetStreamPublisher) ensureStream(ctx context.Context) error {
	sc := p.streamConfig()

	stream, err := p.js.Stream(ctx, sc.Name)
	if err != nil {
		if _, err = p.js.CreateStream(ctx, sc); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		log.Info().Str("stream", sc.Name).Msg("created JetStream stream")
		return nil
	}

	info, err := stream.Info(ctx)
	if err != nil {
		return fmt.Errorf("get stream info: %w", err)
	}
	if !isStreamConfigEqual(info.Config, sc) {
		if _, err = p.js.UpdateStream(ctx, sc); err != nil {
			return fmt.Errorf("update stream: %w", err)
		}
		log.Info().Str("stream", sc.Name).Msg("updated JetStream stream")
	}
	return nil
}

// PublishActivity queues a without blocking.
func (p *JetStreamPublisher) PublishActivity(a room.Activity) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- a:
	default:
		n := p.dropped.Add(1)
		log.Warn().
			Str("room", a.Room).
			Str("event_type", string(a.Kind)).
			Int64("dropped", n).
			Msg("activity queue full, dropping room activity")
	}
}

// Dropped reports how much activity was discarded on a full queue.
func (p *JetStreamPublisher) Dropped() int64 {
	return p.dropped.Load()
}

func (p *JetStreamPublisher) send(a room.Activity) {
	msg, err := NewMessage(p.config.SubjectPrefix, uuid.NewString(), a)
	if err != nil {
		log.Error().Err(err).Str("room", a.Room).Msg("failed to encode room activity")
		return
	}
	if _, err := p.pub.PublishMsgAsync(msg,
		jetstream.WithMsgID(msg.Header.Get("Event-ID")),
		jetstream.WithExpectStream(p.config.StreamName),
	); err != nil {
		log.Error().Err(err).Str("room", a.Room).Str("subject", msg.Subject).Msg("failed to queue room activity")
	}
}

// Close stops accepting activity, waits briefly for the queue and pending
// publishes to drain, then closes the connection.
func (p *JetStreamPublisher) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	timeout := time.After(5 * time.Second)
	select {
	case <-p.done:
	case <-timeout:
		log.Warn().Int("queued", len(p.queue)).Msg("closing with queued room activity")
	}
	if p.js != nil {
		select {
		case <-p.js.PublishAsyncComplete():
		case <-timeout:
			log.Warn().Int("pending", p.js.PublishAsyncPending()).Msg("closing with unacknowledged room activity")
		}
	}
	if p.nc != nil {
		p.nc.Close()
	}
	return nil
}

// NewMessage builds the stream message for an activity.
func NewMessage(subjectPrefix, eventID string, a room.Activity) (*nats.Msg, error) {
	payload, err := json.Marshal(a.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	env := map[string]interface{}{
		"eventId":   eventID,
		"eventType": string(a.Kind),
		"room":      a.Room,
		"timestamp": a.At.UTC(),
		"payload":   json.RawMessage(payload),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}

	return &nats.Msg{
		Subject: fmt.Sprintf("%s.%s", subjectPrefix, a.Kind),
		Data:    data,
		Header: nats.Header{
			"Event-Type": []string{string(a.Kind)},
			"Room":       []string{a.Room},
			"Event-ID":   []string{eventID},
		},
	}, nil
}

func isStreamConfigEqual(a, b jetstream.StreamConfig) bool {
	return a.Name == b.Name &&
		a.MaxAge == b.MaxAge &&
		a.MaxMsgs == b.MaxMsgs &&
		a.Replicas == b.Replicas &&
		a.Duplicates == b.Duplicates
}
