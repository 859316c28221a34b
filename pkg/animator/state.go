package animator

import (
	"sync"

	"github.com/gregtusar/volsurface/pkg/models"
)

// SpinState is the animation state of one view. internal is set for the duration of a
// camera update issued by the animator itself.
type SpinState struct {
	mu       sync.Mutex
	running  bool
	internal bool
	angle    float64

	stop chan struct{}
	done chan struct{}
	// prev is closed when the loop of the replaced spin has exited.
	prev <-chan struct{}
}

// newSpinState starts in the internal phase when it replaces a spin whose loop may still
// have a camera update in flight; notifications echoing that update are not the user's.
func newSpinState(angle float64, prev <-chan struct{}) *SpinState {
	return &SpinState{
		running:  true,
		internal: prev != nil,
		angle:    angle,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		prev:     prev,
	}
}

func (s *SpinState) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *SpinState) Internal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.internal
}

func (s *SpinState) Angle() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.angle
}

// step advances the angle and marks the coming camera update as internal. It returns false
// once the spin has been stopped.
func (s *SpinState) step(spin Spin, dt float64) (models.Camera, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return models.Camera{}, false
	}
	s.angle += spin.Speed * dt
	s.internal = true
	return models.Camera{
		Eye: spin.Eye(s.angle),
		Up:  models.Vec3{Z: 1},
	}, true
}

func (s *SpinState) endStep() {
	s.mu.Lock()
	s.internal = false
	s.mu.Unlock()
}

// halt moves Spinning to Idle. It reports false when the spin was already idle.
func (s *SpinState) halt() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.haltLocked()
}

func (s *SpinState) haltLocked() bool {
	if !s.running {
		return false
	}
	s.running = false
	close(s.stop)
	return true
}

// interruptBy halts the spin on a user notification. While a camera update is in flight,
// notifications the update itself can raise are ignored.
func (s *SpinState) interruptBy(ev models.ViewEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.internal && ev.Echoable() {
		return false
	}
	return s.haltLocked()
}
