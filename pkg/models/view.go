package models

// ViewEvent is a notification raised by a rendered view.
type ViewEvent string

const (
	EventHover       ViewEvent = "hover"
	EventUnhover     ViewEvent = "unhover"
	EventClick       ViewEvent = "click"
	EventSelected    ViewEvent = "selected"
	EventDoubleClick ViewEvent = "doubleclick"
	EventDeselect    ViewEvent = "deselect"
	EventRelayout    ViewEvent = "relayout"
)

// Echoable reports whether a programmatic camera update can itself raise the event.
// Relayout echoes the update; hover and unhover fire when the surface moves under a
// stationary pointer.
func (e ViewEvent) Echoable() bool {
	switch e {
	case EventRelayout, EventHover, EventUnhover:
		return true
	}
	return false
}

func (e ViewEvent) Valid() bool {
	switch e {
	case EventHover, EventUnhover, EventClick, EventSelected, EventDoubleClick, EventDeselect, EventRelayout:
		return true
	}
	return false
}

type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Camera is a 3-D scene camera.
type Camera struct {
	Eye    Vec3  `json:"eye"`
	Center *Vec3 `json:"center,omitempty"`
	Up     Vec3  `json:"up"`
}
