package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/mcdev12/studysync/go/internal/models"
	"github.com/rs/zerolog/log"
)

// WriterConfig sizes the asynchronous write path.
type WriterConfig struct {
	Workers   int
	QueueSize int
	OpTimeout time.Duration
}

// DefaultWriterConfig returns the defaults used by the gateway.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		Workers:   4,
		QueueSize: 256,
		OpTimeout: 5 * time.Second,
	}
}

type writeOp struct {
	room string
	name string
	fn   func(ctx context.Context, s Store) error
	done chan struct{}
}

// Writer applies store mutations off the caller's goroutine. Operations for
// one room always land on the same worker, so they are applied in the order
// they were enqueued. A full queue drops the operation.
type Writer struct {
	store  Store
	cfg    WriterConfig
	shards []chan writeOp

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewWriter starts cfg.Workers workers writing to s.
func NewWriter(s Store, cfg WriterConfig) *Writer {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = DefaultWriterConfig().OpTimeout
	}

	w := &Writer{
		store:  s,
		cfg:    cfg,
		shards: make([]chan writeOp, cfg.Workers),
	}
	for i := range w.shards {
		w.shards[i] = make(chan writeOp, cfg.QueueSize)
		w.wg.Add(1)
		go w.worker(i, w.shards[i])
	}

	log.Info().
		Int("workers", cfg.Workers).
		Int("queue_size", cfg.QueueSize).
		Msg("store writer started")
	return w
}

// Store returns the underlying store for synchronous reads.
func (w *Writer) Store() Store {
	return w.store
}

func (w *Writer) shard(room string) chan writeOp {
	return w.shards[xxhash.Sum64String(room)%uint64(len(w.shards))]
}

// Enqueue schedules fn for room. It reports false when the operation was
// dropped.
func (w *Writer) Enqueue(room, name string, fn func(ctx context.Context, s Store) error) bool {
	return w.enqueue(writeOp{room: room, name: name, fn: fn})
}

func (w *Writer) enqueue(op writeOp) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		log.Warn().Str("room", op.room).Str("op", op.name).Msg("store writer closed, dropping write")
		return false
	}
	select {
	case w.shard(op.room) <- op:
		return true
	default:
		log.Warn().Str("room", op.room).Str("op", op.name).Msg("store writer queue full, dropping write")
		return false
	}
}

// SaveMembers persists the engine-owned fields of a room.
func (w *Writer) SaveMembers(room, hostID string, members []models.RoomMember, at time.Time) {
	w.Enqueue(room, "save_members", func(ctx context.Context, s Store) error {
		return s.UpdateMembers(ctx, room, hostID, members, at)
	})
}

// SaveMessage appends a chat message to the room's log.
func (w *Writer) SaveMessage(msg models.Message) {
	w.Enqueue(msg.Room, "save_message", func(ctx context.Context, s Store) error {
		return s.SaveMessage(ctx, &msg)
	})
}

// PurgeRoom deletes the room's chat log and then the room itself.
func (w *Writer) PurgeRoom(room string) {
	w.Enqueue(room, "purge_room", func(ctx context.Context, s Store) error {
		if err := s.DeleteMessages(ctx, room); err != nil {
			return err
		}
		return s.DeleteRoom(ctx, room)
	})
}

// Flush blocks until every operation enqueued before the call has been
// applied, or ctx is done.
func (w *Writer) Flush(ctx context.Context) error {
	var pending []chan struct{}
	w.mu.RLock()
	if !w.closed {
		for _, ch := range w.shards {
			done := make(chan struct{})
			select {
			case ch <- writeOp{name: "flush", done: done}:
				pending = append(pending, done)
			case <-ctx.Done():
				w.mu.RUnlock()
				return ctx.Err()
			}
		}
	}
	w.mu.RUnlock()

	for _, done := range pending {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close stops accepting writes and waits for queued ones to finish.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	for _, ch := range w.shards {
		close(ch)
	}
	w.mu.Unlock()

	w.wg.Wait()
	log.Info().Msg("store writer stopped")
}

func (w *Writer) worker(id int, ops <-chan writeOp) {
	defer w.wg.Done()

	for op := range ops {
		if op.done != nil {
			close(op.done)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), w.cfg.OpTimeout)
		err := op.fn(ctx, w.store)
		cancel()

		switch {
		case err == nil:
		case errors.Is(err, ErrNotFound):
			log.Debug().
				Str("room", op.room).
				Str("op", op.name).
				Msg("room no longer stored, skipping write")
		default:
			log.Error().
				Err(err).
				Str("room", op.room).
				Str("op", op.name).
				Int("worker_id", id).
				Msg("failed to persist room state")
		}
	}
}
