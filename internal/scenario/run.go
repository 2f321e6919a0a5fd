package scenario

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/zeusync/cabintrainer/internal/core/events/bus"
	"github.com/zeusync/cabintrainer/internal/core/observability/log"
	"github.com/zeusync/cabintrainer/internal/core/steps"
	"github.com/zeusync/cabintrainer/internal/core/systems/physics"
)

var _ bus.EventBusObserver = (*Session)(nil)

// Notice is one notification seen during a run, stamped with simulation time.
type Notice struct {
	At     float64 `json:"at"`
	Kind   string  `json:"kind"`
	Source string  `json:"source"`
}

// ActionResult records whether a scripted input took effect; a refused grab
// or a detach blocked by connected children is a result, not an error.
type ActionResult struct {
	Index int     `json:"index"`
	Do    string  `json:"do"`
	At    float64 `json:"at"`
	OK    bool    `json:"ok"`
}

type Report struct {
	Session       string            `json:"session"`
	Scenario      string            `json:"scenario"`
	SimTime       float64           `json:"sim_time"`
	Frames        uint64            `json:"frames"`
	FixedSteps    uint64            `json:"fixed_steps"`
	Completed     bool              `json:"completed"`
	Procedures    []steps.Progress  `json:"procedures"`
	Actions       []ActionResult    `json:"actions"`
	Notifications []Notice          `json:"notifications"`
	Degraded      map[string]string `json:"degraded,omitempty"`
}

// Kinds lists notification kinds in the order they were seen.
func (r *Report) Kinds() []string {
	out := make([]string, len(r.Notifications))
	for i, n := range r.Notifications {
		out[i] = n.Kind + ":" + n.Source
	}
	return out
}

func (s *Session) OnPublish(_, eventType string, event bus.Event) {
	s.notices = append(s.notices, Notice{At: s.Manager.SimTime(), Kind: eventType, Source: event.Source()})
}

func (s *Session) OnDelivered(string, string, int, error, time.Duration) {}

// Run initializes the systems, replays the script frame by frame and shuts
// the systems down. The report reflects the state reached even when the
// context is cancelled or a system fails.
func (s *Session) Run(ctx context.Context) (*Report, error) {
	if err := s.Manager.Initialize(ctx); err != nil {
		return s.Report(nil), err
	}
	start := time.Now()
	results, err := s.replay(ctx)
	err = errors.Join(err, s.Manager.Shutdown(context.WithoutCancel(ctx)))

	r := s.Report(results)
	s.log.Info("scenario replayed",
		log.Float64("sim_time", r.SimTime),
		log.Bool("completed", r.Completed),
		log.Int("notifications", len(r.Notifications)),
		log.Duration("elapsed", time.Since(start)),
	)
	return r, err
}

func (s *Session) replay(ctx context.Context) ([]ActionResult, error) {
	results := make([]ActionResult, 0, len(s.Scenario.Script))
	for i, a := range s.Scenario.Script {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		at := s.Manager.SimTime()
		ok, err := s.Apply(ctx, a)
		results = append(results, ActionResult{Index: i, Do: a.Do, At: at, OK: ok})
		if err != nil {
			return results, fmt.Errorf("script #%d (%s): %w", i, a.Do, err)
		}
		if !ok {
			s.log.Debug("scripted action had no effect", log.Int("index", i), log.String("do", a.Do))
		}
	}
	return results, nil
}

// Apply performs one action. Move and wait advance the simulation; the
// others take effect immediately and are seen by the next fixed step.
func (s *Session) Apply(ctx context.Context, a Action) (bool, error) {
	hands := s.World.Hands()
	switch a.Do {
	case ActGrab:
		return hands.Grab(a.Hand, a.Object), nil
	case ActRelease:
		return hands.Release(a.Hand), nil
	case ActMove:
		return s.move(ctx, a)
	case ActDisconnect:
		return s.Endpoints[a.Target].Disconnect(), nil
	case ActDetach:
		as := s.Assemblies[a.Target]
		if a.Force {
			return as.ForceDetach(), nil
		}
		return as.Detach(), nil
	case ActWait:
		return true, s.Advance(ctx, a.Seconds)
	}
	return false, fmt.Errorf("%w: %s", ErrUnknownAction, a.Do)
}

func (s *Session) move(ctx context.Context, a Action) (bool, error) {
	set := func(p physics.Vec3) bool {
		if a.Body != "" {
			body := s.Objects[a.Body].Body()
			pose := body.Pose()
			pose.Position = p
			body.SetPose(pose)
			return true
		}
		return s.World.Hands().Move(a.Hand, p)
	}

	if a.Seconds <= 0 {
		return set(*a.To), nil
	}
	from, ok := s.startOf(a)
	if !ok {
		return false, nil
	}
	frames := s.framesFor(a.Seconds)
	moved := false
	for i := 1; i <= frames; i++ {
		if err := ctx.Err(); err != nil {
			return moved, err
		}
		// the hand may lose its object on the way, e.g. when it snaps on
		if set(from.Lerp(*a.To, float64(i)/float64(frames))) {
			moved = true
		}
		if err := s.tick(ctx); err != nil {
			return moved, err
		}
	}
	return moved, nil
}

func (s *Session) startOf(a Action) (physics.Vec3, bool) {
	if a.Body != "" {
		return s.Objects[a.Body].Body().Pose().Position, true
	}
	id, ok := s.World.Hands().Holding(a.Hand)
	if !ok {
		return physics.Vec3{}, false
	}
	return s.Objects[id].Body().Pose().Position, true
}

// Advance ticks whole frames covering seconds of simulation time.
func (s *Session) Advance(ctx context.Context, seconds float64) error {
	for i := s.framesFor(seconds); i > 0; i-- {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.tick(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) tick(ctx context.Context) error {
	if s.realtime {
		t := time.NewTimer(time.Duration(s.frame * float64(time.Second)))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return s.Manager.Tick(s.frame)
}

func (s *Session) framesFor(seconds float64) int {
	return int(math.Ceil(seconds/s.frame - 1e-9))
}

// Report snapshots progress. It can be taken at any time.
func (s *Session) Report(actions []ActionResult) *Report {
	r := &Report{
		Session:       s.ID,
		Scenario:      s.Scenario.Name,
		SimTime:       s.Manager.SimTime(),
		Frames:        s.Manager.Frames(),
		FixedSteps:    s.Manager.FixedSteps(),
		Completed:     len(s.Trackers) > 0,
		Actions:       actions,
		Notifications: append([]Notice(nil), s.notices...),
	}
	for _, t := range s.Trackers {
		p := t.Progress()
		r.Procedures = append(r.Procedures, p)
		r.Completed = r.Completed && p.Completed
	}
	if d := s.Degraded(); len(d) > 0 {
		r.Degraded = make(map[string]string, len(d))
		for id, err := range d {
			r.Degraded[id] = err.Error()
		}
	}
	return r
}
