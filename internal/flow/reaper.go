package flow

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/ImagePipe/internal/messaging"
)

// Reaper defaults. Sessions idle past the step timeout get one reminder per
// step; sessions idle past the stall timeout are cleared and the participant
// is notified.
const (
	DefaultReaperInterval = 10 * time.Second
	DefaultStepTimeout    = 60 * time.Second
	DefaultStallTimeout   = 180 * time.Second
)

// stallNotice is sent to participants whose conversation timed out.
const stallNotice = "Your session has timed out due to inactivity. Please start over."

// stepNotice reminds participants who linger too long on a single step.
const stepNotice = "You took too long to respond. Please restart the current step."

// Reaper periodically warns and clears sessions that have gone idle.
type Reaper struct {
	sessions *SessionStore
	msg      messaging.Service
	interval time.Duration
	stepIdle time.Duration
	maxIdle  time.Duration
}

// NewReaper creates a Reaper over the given session store, notifying warned
// and cleared participants through msg.
func NewReaper(sessions *SessionStore, msg messaging.Service, interval, stepIdle, maxIdle time.Duration) *Reaper {
	if interval <= 0 {
		interval = DefaultReaperInterval
	}
	if stepIdle <= 0 {
		stepIdle = DefaultStepTimeout
	}
	if maxIdle <= 0 {
		maxIdle = DefaultStallTimeout
	}
	return &Reaper{sessions: sessions, msg: msg, interval: interval, stepIdle: stepIdle, maxIdle: maxIdle}
}

// Run scans for idle sessions until the context is cancelled. Call in a
// goroutine.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	slog.Info("Reaper.Run: session reaper started", "interval", r.interval, "stepIdle", r.stepIdle, "maxIdle", r.maxIdle)
	for {
		select {
		case <-ctx.Done():
			slog.Debug("Reaper.Run: stopping due to context cancellation")
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// sweep clears stalled sessions and reminds slow ones. A notification
// failure for one participant never aborts the rest of the scan.
func (r *Reaper) sweep(ctx context.Context) {
	stalled, warned := r.sessions.Sweep(r.stepIdle, r.maxIdle)
	for _, sess := range stalled {
		slog.Info("Reaper.sweep: cleared stale session", "participant", sess.Participant, "flow", sess.Flow)
		if err := r.msg.SendMessage(ctx, sess.ChatID, stallNotice); err != nil {
			slog.Warn("Reaper.sweep: failed to notify participant", "error", err, "participant", sess.Participant)
		}
	}
	for _, sess := range warned {
		slog.Info("Reaper.sweep: warned slow session", "participant", sess.Participant, "flow", sess.Flow, "state", sess.State)
		if err := r.msg.SendMessage(ctx, sess.ChatID, stepNotice); err != nil {
			slog.Warn("Reaper.sweep: failed to warn participant", "error", err, "participant", sess.Participant)
		}
	}
}
