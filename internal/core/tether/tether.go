// Package tether keeps a grabbable object elastically bound to an anchor.
// A Link pulls the object back softly while released and loosely while held,
// and never lets it end a fixed step farther than MaxDistance from the anchor.
package tether

import (
	"errors"
	"fmt"

	"github.com/zeusync/cabintrainer/internal/core/interaction"
	"github.com/zeusync/cabintrainer/internal/core/observability/log"
	"github.com/zeusync/cabintrainer/internal/core/systems"
	"github.com/zeusync/cabintrainer/internal/core/systems/physics"
)

var (
	ErrMissingObject = errors.New("tether: object not set")
	ErrMissingAnchor = errors.New("tether: anchor not set")
	ErrInvalidRadius = errors.New("tether: max distance must be positive")
	ErrInvalidRegime = errors.New("tether: stiffness and damping must not be negative")
)

// Regime is one spring setting of the tether.
type Regime struct {
	Stiffness float64 `yaml:"stiffness" json:"stiffness"`
	Damping   float64 `yaml:"damping" json:"damping"`
}

func (r Regime) scaled(k, c float64) Regime {
	return Regime{Stiffness: r.Stiffness * k, Damping: r.Damping * c}
}

type Config struct {
	ID          string  `yaml:"id" json:"id"`
	MaxDistance float64 `yaml:"max_distance" json:"max_distance"`
	Released    Regime  `yaml:"released" json:"released"`

	// Held defaults to Released scaled by 0.3 stiffness and 0.5 damping.
	Held Regime `yaml:"held" json:"held"`

	// CorrectionGain scales the restoring force.
	CorrectionGain float64 `yaml:"correction_gain" json:"correction_gain"`

	// RestThreshold is the fraction of MaxDistance under which no
	// restoring force is applied.
	RestThreshold float64 `yaml:"rest_threshold" json:"rest_threshold"`

	// AngularRate is how fast a released object turns back to the anchor
	// orientation, as a slerp factor per second.
	AngularRate float64 `yaml:"angular_rate" json:"angular_rate"`

	// ReturnImpulse is the impulse per metre of displacement applied toward
	// the anchor on release.
	ReturnImpulse float64 `yaml:"return_impulse" json:"return_impulse"`
}

func DefaultConfig() Config {
	return Config{
		MaxDistance:    1.5,
		Released:       Regime{Stiffness: 500, Damping: 50},
		Held:           Regime{Stiffness: 150, Damping: 25},
		CorrectionGain: 0.1,
		RestThreshold:  0.1,
		AngularRate:    10,
		ReturnImpulse:  0.5,
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.MaxDistance == 0 {
		c.MaxDistance = def.MaxDistance
	}
	if c.Released == (Regime{}) {
		c.Released = def.Released
	}
	if c.Held == (Regime{}) {
		c.Held = c.Released.scaled(0.3, 0.5)
	}
	if c.CorrectionGain == 0 {
		c.CorrectionGain = def.CorrectionGain
	}
	if c.RestThreshold == 0 {
		c.RestThreshold = def.RestThreshold
	}
	if c.AngularRate == 0 {
		c.AngularRate = def.AngularRate
	}
	if c.ReturnImpulse == 0 {
		c.ReturnImpulse = def.ReturnImpulse
	}
	return c
}

func (c Config) Validate() error {
	var errs []error
	if c.MaxDistance <= 0 {
		errs = append(errs, fmt.Errorf("%w: %g", ErrInvalidRadius, c.MaxDistance))
	}
	for _, r := range []Regime{c.Released, c.Held} {
		if r.Stiffness < 0 || r.Damping < 0 {
			errs = append(errs, ErrInvalidRegime)
			break
		}
	}
	return errors.Join(errs...)
}

var _ systems.FixedUpdater = (*Link)(nil)

// Link is a tether between one object and an anchor frame that may move.
type Link struct {
	cfg       Config
	obj       *interaction.Object
	anchor    physics.Frame
	log       log.Log
	configErr error

	held   bool
	regime Regime
	cancel func()
}

// New builds an enabled link. A misconfigured link logs once and never acts.
func New(cfg Config, obj *interaction.Object, anchor physics.Frame, env interaction.Env) *Link {
	cfg = cfg.WithDefaults()
	l := &Link{
		cfg:    cfg,
		obj:    obj,
		anchor: anchor,
		log:    env.Logger("tether", cfg.ID),
		regime: cfg.Released,
	}
	err := cfg.Validate()
	if obj == nil {
		err = errors.Join(err, ErrMissingObject)
	}
	if anchor == nil {
		err = errors.Join(err, ErrMissingAnchor)
	}
	if err != nil {
		l.configErr = fmt.Errorf("tether %q: %w", cfg.ID, err)
		l.log.Error("tether misconfigured, it will not constrain", log.Error(err))
		return l
	}
	l.Enable()
	return l
}

func (l *Link) Name() string               { return "tether." + l.cfg.ID }
func (l *Link) Priority() systems.Priority { return systems.PriorityNormal }

func (l *Link) ID() string            { return l.cfg.ID }
func (l *Link) Config() Config        { return l.cfg }
func (l *Link) ConfigErr() error      { return l.configErr }
func (l *Link) IsHeld() bool          { return l.held }
func (l *Link) Regime() Regime        { return l.regime }
func (l *Link) Enabled() bool         { return l.cancel != nil }
func (l *Link) Anchor() physics.Frame { return l.anchor }

// Distance from the object to the anchor.
func (l *Link) Distance() float64 {
	if l.configErr != nil {
		return 0
	}
	return l.obj.Body().Pose().Position.Dist(l.anchor.Pose().Position)
}

// Enable subscribes to the object's hold edges. Calling it twice is a no-op.
func (l *Link) Enable() {
	if l.configErr != nil || l.cancel != nil {
		return
	}
	l.cancel = l.obj.OnHoldChanged(l.onHoldChanged)
	l.setHeld(l.obj.IsHeld())
}

// Disable drops the hold subscription. The hard radius keeps being enforced
// by FixedUpdate.
func (l *Link) Disable() {
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
}

// FixedUpdate applies the restoring force and then the hard radius.
func (l *Link) FixedUpdate(dt float64) error {
	if l.configErr != nil {
		return nil
	}
	body := l.obj.Body()
	anchor := l.anchor.Pose()

	if !body.IsKinematic() {
		pose := body.Pose()
		f := body.Velocity().Scale(-l.regime.Damping)
		// the spring only engages outside the rest zone
		toAnchor := anchor.Position.Sub(pose.Position)
		if toAnchor.Len() > l.cfg.MaxDistance*l.cfg.RestThreshold {
			f = f.Add(toAnchor.Scale(l.regime.Stiffness))
		}
		body.AddForce(f.Scale(l.cfg.CorrectionGain))
		if !l.held {
			pose.Rotation = physics.Slerp(pose.Rotation, anchor.Rotation, dt*l.cfg.AngularRate)
			body.SetPose(pose)
		}
	}

	l.clamp(body, anchor.Position)
	return nil
}

func (l *Link) clamp(body physics.Body, anchor physics.Vec3) {
	pose := body.Pose()
	out := pose.Position.Sub(anchor)
	dist := out.Len()
	if dist <= l.cfg.MaxDistance {
		return
	}
	dir := out.Scale(1 / dist)
	pose.Position = anchor.Add(dir.Scale(l.cfg.MaxDistance))
	body.SetPose(pose)
	v := body.Velocity()
	if away := v.Dot(dir); away > 0 {
		body.SetVelocity(v.Sub(dir.Scale(away)))
	}
}

// ReturnToRest snaps the object onto the anchor and stops it.
func (l *Link) ReturnToRest() {
	if l.configErr != nil {
		return
	}
	body := l.obj.Body()
	body.SetPose(l.anchor.Pose())
	physics.Stop(body)
	l.log.Debug("returned to rest")
}

func (l *Link) onHoldChanged(c interaction.HoldChange) {
	was := l.held
	l.setHeld(c.After > 0)
	if was && !l.held {
		body := l.obj.Body()
		toAnchor := l.anchor.Pose().Position.Sub(body.Pose().Position)
		body.AddImpulse(toAnchor.Scale(l.cfg.ReturnImpulse))
		l.log.Debug("released, pulling back", log.Float64("distance", toAnchor.Len()))
	}
}

func (l *Link) setHeld(held bool) {
	l.held = held
	if held {
		l.regime = l.cfg.Held
	} else {
		l.regime = l.cfg.Released
	}
}
