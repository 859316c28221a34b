package animator

import "time"

// FrameSource paces the animation. Each call to Frames starts an independent stream that
// stays live until release is called.
type FrameSource interface {
	Frames() (frames <-chan time.Time, release func())
}

type tickerFrames struct {
	interval time.Duration
}

// TickerFrames emits fps frames per second from a time.Ticker.
func TickerFrames(fps int) FrameSource {
	if fps <= 0 {
		fps = 60
	}
	return tickerFrames{interval: time.Second / time.Duration(fps)}
}

func (f tickerFrames) Frames() (<-chan time.Time, func()) {
	t := time.NewTicker(f.interval)
	return t.C, t.Stop
}
