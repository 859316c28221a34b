// Package animator spins the camera of a 3-D view until the user interacts with it.
package animator

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/gregtusar/volsurface/pkg/metrics"
	"github.com/gregtusar/volsurface/pkg/models"
	"github.com/gregtusar/volsurface/pkg/render"
	"github.com/sirupsen/logrus"
)

// View is a 3-D view the animator can move and listen to.
type View interface {
	ID() string
	Relayout(ctx context.Context, update render.Layout) error
	// Subscribe registers handler for the view's interaction notifications.
	Subscribe(handler func(models.ViewEvent)) (unsubscribe func())
}

// Spin configures the camera orbit.
type Spin struct {
	Speed  float64 // radians per second
	Radius float64
	Height float64
}

func DefaultSpin() Spin {
	return Spin{Speed: 0.25, Radius: 2.0, Height: 0.25}
}

// Eye is the camera position at angle on the orbit.
func (s Spin) Eye(angle float64) models.Vec3 {
	return models.Vec3{
		X: s.Radius * math.Cos(angle),
		Y: s.Radius * math.Sin(angle),
		Z: s.Height,
	}
}

// Animator owns one SpinState per view id.
type Animator struct {
	frames  FrameSource
	logger  *logrus.Entry
	metrics *metrics.Metrics

	mu    sync.Mutex
	spins map[string]*SpinState
	subs  map[string]func()
}

func New(frames FrameSource, logger *logrus.Logger, m *metrics.Metrics) *Animator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Animator{
		frames:  frames,
		logger:  logger.WithField("component", "animator"),
		metrics: m,
		spins:   make(map[string]*SpinState),
		subs:    make(map[string]func()),
	}
}

// Arm starts spinning view. Any spin already running on the view is cancelled first and
// its angle carried over; the new spin takes its first step only after the old loop has
// exited. The interaction listener is attached once per view.
func (a *Animator) Arm(ctx context.Context, view View, spin Spin) {
	id := view.ID()

	a.mu.Lock()
	angle := 0.0
	var prev <-chan struct{}
	if old, ok := a.spins[id]; ok {
		old.halt()
		angle = old.Angle()
		prev = old.done
	}
	st := newSpinState(angle, prev)
	a.spins[id] = st
	if _, attached := a.subs[id]; !attached {
		a.subs[id] = view.Subscribe(func(ev models.ViewEvent) {
			a.Dispatch(id, ev)
		})
	}
	a.mu.Unlock()

	a.logger.WithFields(logrus.Fields{
		"view":  id,
		"speed": spin.Speed,
	}).Debug("Spin armed")

	go a.run(ctx, view, st, spin)
}

// Dispatch feeds a view notification into the view's spin. It reports whether the
// notification stopped the spin.
func (a *Animator) Dispatch(viewID string, ev models.ViewEvent) bool {
	st := a.state(viewID)
	if st == nil {
		return false
	}
	if !st.interruptBy(ev) {
		return false
	}
	a.logger.WithFields(logrus.Fields{
		"view":  viewID,
		"event": ev,
	}).Debug("Spin stopped by user interaction")
	return true
}

// Cancel stops the spin of viewID. An in-flight camera update is left to complete.
func (a *Animator) Cancel(viewID string) bool {
	st := a.state(viewID)
	if st == nil {
		return false
	}
	return st.halt()
}

func (a *Animator) Running(viewID string) bool {
	st := a.state(viewID)
	return st != nil && st.Running()
}

func (a *Animator) Angle(viewID string) float64 {
	if st := a.state(viewID); st != nil {
		return st.Angle()
	}
	return 0
}

// Done returns a channel closed when the current spin loop of viewID has exited, or nil
// when the view was never armed.
func (a *Animator) Done(viewID string) <-chan struct{} {
	if st := a.state(viewID); st != nil {
		return st.done
	}
	return nil
}

// Detach cancels the view's spin and removes its listener.
func (a *Animator) Detach(viewID string) {
	a.mu.Lock()
	st := a.spins[viewID]
	unsubscribe := a.subs[viewID]
	delete(a.spins, viewID)
	delete(a.subs, viewID)
	a.mu.Unlock()

	if st != nil {
		st.halt()
	}
	if unsubscribe != nil {
		unsubscribe()
	}
}

// Close detaches every view.
func (a *Animator) Close() {
	a.mu.Lock()
	ids := make([]string, 0, len(a.spins)+len(a.subs))
	for id := range a.spins {
		ids = append(ids, id)
	}
	for id := range a.subs {
		if _, ok := a.spins[id]; !ok {
			ids = append(ids, id)
		}
	}
	a.mu.Unlock()

	for _, id := range ids {
		a.Detach(id)
	}
}

func (a *Animator) state(viewID string) *SpinState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.spins[viewID]
}

// run advances the camera once per frame. Steps are sequential: the next frame is not
// consumed until the previous camera update has returned.
func (a *Animator) run(ctx context.Context, view View, st *SpinState, spin Spin) {
	defer close(st.done)

	frames, release := a.frames.Frames()
	defer release()

	if st.prev != nil {
		select {
		case <-st.prev:
			st.endStep()
		case <-st.stop:
			return
		case <-ctx.Done():
			st.halt()
			return
		}
	}

	var last time.Time
	for {
		select {
		case <-st.stop:
			return
		case <-ctx.Done():
			st.halt()
			return
		case ts, ok := <-frames:
			if !ok {
				st.halt()
				return
			}
			dt := 0.0
			if !last.IsZero() {
				dt = ts.Sub(last).Seconds()
			}
			last = ts

			cam, ok := st.step(spin, dt)
			if !ok {
				return
			}
			err := view.Relayout(ctx, render.CameraUpdate(cam))
			st.endStep()
			if err != nil {
				a.logger.WithError(err).WithField("view", view.ID()).Warn("Camera update failed, stopping spin")
				st.halt()
				return
			}
			a.metrics.AnimationFrame()
		}
	}
}
