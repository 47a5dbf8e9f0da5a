package detect

import (
	"context"
	"time"

	"github.com/dkeye/Vision/internal/client/peer"
	"github.com/dkeye/Vision/internal/metrics"
	"github.com/rs/zerolog/log"
)

// ActiveView exposes the session currently on display.
type ActiveView interface {
	Active() *peer.Session
}

// Result is the outcome of one detector call.
type Result struct {
	Frame      Frame
	Detections []Detection
}

// Runner feeds frames of the active session to a detector. The active
// session is looked up on every tick, so view changes take effect on the
// next tick.
type Runner struct {
	view     ActiveView
	detector Detector
	interval time.Duration
	onResult func(Result)

	session *peer.Session
	pump    *Pump
}

func NewRunner(view ActiveView, detector Detector, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Runner{view: view, detector: detector, interval: interval}
}

// OnResult registers fn to receive results. It runs on the runner goroutine.
func (r *Runner) OnResult(fn func(Result)) { r.onResult = fn }

// Run blocks until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer func() {
		ticker.Stop()
		r.stopPump()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	r.follow(ctx, r.view.Active())
	if r.pump == nil {
		return
	}
	select {
	case f := <-r.pump.Frames():
		r.detect(ctx, f)
	default:
	}
}

// follow points the pump at s, or stops it when nothing is active.
func (r *Runner) follow(ctx context.Context, s *peer.Session) {
	if s == r.session {
		return
	}
	r.stopPump()
	r.session = s
	if s == nil {
		return
	}

	src, ok := s.Inbound().(PacketReader)
	if !ok {
		log.Debug().Str("module", "detect").Str("remote", string(s.Remote)).Msg("inbound stream has no packets")
		return
	}
	logger := log.With().Str("module", "detect").Str("remote", string(s.Remote)).Logger()
	r.pump = NewPump(s.Remote, src, depacketizerFor(src))
	r.pump.Start(ctx, &logger)
	logger.Info().Msg("detecting on active view")
}

func (r *Runner) stopPump() {
	if r.pump != nil {
		r.pump.Stop()
		r.pump = nil
	}
	r.session = nil
}

func (r *Runner) detect(ctx context.Context, f Frame) {
	start := time.Now()
	dets, err := r.detector.Detect(ctx, f)
	metrics.DetectDuration.Observe(time.Since(start).Seconds())
	metrics.Frames.Inc()
	if err != nil {
		log.Warn().Err(err).Str("module", "detect").Str("remote", string(f.Remote)).Msg("detector failed")
		return
	}
	metrics.Detections.Add(float64(len(dets)))
	if !f.Received.IsZero() {
		metrics.FrameLatency.Observe(time.Since(f.Received).Seconds())
	}
	if r.onResult != nil {
		r.onResult(Result{Frame: f, Detections: dets})
	}
}
