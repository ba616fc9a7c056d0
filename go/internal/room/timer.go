package room

import (
	"context"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/studysync/go/internal/models"
	"github.com/rs/zerolog/log"
)

// TimerState is the shared countdown of a room.
type TimerState struct {
	Running          bool   `json:"running"`
	RemainingSeconds int    `json:"remainingSeconds"`
	Label            string `json:"label"`
}

// TimerConfig is what a host supplies to start or reset a countdown.
type TimerConfig struct {
	RemainingSeconds int    `json:"remainingSeconds"`
	Label            string `json:"label"`
}

func (c TimerConfig) state() *TimerState {
	secs := c.RemainingSeconds
	if secs < 0 {
		secs = 0
	}
	return &TimerState{RemainingSeconds: secs, Label: c.Label}
}

// tickTask is the one ticker a running room owns. Ticks from a task that is
// no longer the room's current one are ignored.
type tickTask struct {
	id     uint64
	ticker clockwork.Ticker
	cancel context.CancelFunc
}

func (r *Registry) startTask(lr *liveRoom) {
	r.stopTask(lr)

	r.taskSeq++
	ctx, cancel := context.WithCancel(r.runCtx)
	t := &tickTask{
		id:     r.taskSeq,
		ticker: r.clock.NewTicker(r.cfg.TickInterval),
		cancel: cancel,
	}
	lr.task = t
	go r.tickLoop(ctx, lr.name, t)
}

func (r *Registry) stopTask(lr *liveRoom) {
	if lr.task == nil {
		return
	}
	lr.task.cancel()
	lr.task.ticker.Stop()
	lr.task = nil
}

func (r *Registry) tickLoop(ctx context.Context, room string, t *tickTask) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.ticker.Chan():
			r.post(ctx, func() { r.tick(room, t) })
		}
	}
}

func (r *Registry) tick(room string, t *tickTask) {
	lr := r.rooms[room]
	if lr == nil || lr.task != t || lr.timer == nil {
		return
	}

	if lr.timer.RemainingSeconds > 0 {
		lr.timer.RemainingSeconds--
	}
	if lr.timer.RemainingSeconds == 0 {
		lr.timer.Running = false
		r.stopTask(lr)
		log.Info().Str("room", room).Str("label", lr.timer.Label).Msg("room timer finished")
	}
	r.out.BroadcastToRoom(room, EventTimerUpdated, *lr.timer)
	if !lr.timer.Running {
		r.publish(ActivityTimerChanged, room, *lr.timer)
	}
}

// hostRoom returns the live room if requester is its host and is still in
// the room on this connection.
func (r *Registry) hostRoom(room string, requester models.Identity) (*liveRoom, error) {
	lr := r.rooms[room]
	if lr == nil {
		return nil, ErrRoomNotFound
	}
	if lr.hostID == "" || requester.HostID() != lr.hostID || !lr.hasConnection(requester.ConnectionID) {
		return nil, ErrNotHost
	}
	return lr, nil
}

func (r *Registry) timerChanged(lr *liveRoom, action string) {
	state := *lr.timer
	r.out.BroadcastToRoom(lr.name, EventTimerUpdated, state)
	r.publish(ActivityTimerChanged, lr.name, state)

	log.Debug().
		Str("room", lr.name).
		Str("action", action).
		Bool("running", state.Running).
		Int("remaining_seconds", state.RemainingSeconds).
		Msg("room timer updated")
}

// StartTimer starts the countdown. A supplied config replaces the current
// state first. Starting a running timer, or one with nothing left and no new
// config, does nothing.
func (r *Registry) StartTimer(ctx context.Context, room string, requester models.Identity, cfg *TimerConfig) error {
	var result error
	err := r.do(ctx, func() {
		lr, err := r.hostRoom(room, requester)
		if err != nil {
			result = err
			return
		}
		if lr.timer != nil && lr.timer.Running {
			return
		}
		if cfg != nil {
			lr.timer = cfg.state()
		}
		if lr.timer == nil {
			return
		}
		if lr.timer.RemainingSeconds == 0 {
			if cfg != nil {
				r.stopTask(lr)
				r.timerChanged(lr, "start")
			}
			return
		}
		lr.timer.Running = true
		r.startTask(lr)
		r.timerChanged(lr, "start")
	})
	if err != nil {
		return err
	}
	return result
}

// PauseTimer stops the countdown where it is.
func (r *Registry) PauseTimer(ctx context.Context, room string, requester models.Identity) error {
	var result error
	err := r.do(ctx, func() {
		lr, err := r.hostRoom(room, requester)
		if err != nil {
			result = err
			return
		}
		r.stopTask(lr)
		if lr.timer == nil {
			return
		}
		lr.timer.Running = false
		r.timerChanged(lr, "pause")
	})
	if err != nil {
		return err
	}
	return result
}

// ResetTimer replaces the countdown with a stopped one.
func (r *Registry) ResetTimer(ctx context.Context, room string, requester models.Identity, cfg TimerConfig) error {
	var result error
	err := r.do(ctx, func() {
		lr, err := r.hostRoom(room, requester)
		if err != nil {
			result = err
			return
		}
		r.stopTask(lr)
		lr.timer = cfg.state()
		r.timerChanged(lr, "reset")
	})
	if err != nil {
		return err
	}
	return result
}

// Timer returns a copy of the room's countdown, or nil.
func (r *Registry) Timer(ctx context.Context, room string) (*TimerState, error) {
	var out *TimerState
	err := r.do(ctx, func() {
		if lr := r.rooms[room]; lr != nil && lr.timer != nil {
			t := *lr.timer
			out = &t
		}
	})
	return out, err
}
