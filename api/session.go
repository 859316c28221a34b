package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/gregtusar/volsurface/pkg/animator"
	"github.com/gregtusar/volsurface/pkg/calibration"
	"github.com/gregtusar/volsurface/pkg/metrics"
	"github.com/gregtusar/volsurface/pkg/models"
	"github.com/gregtusar/volsurface/pkg/render"
	"github.com/gregtusar/volsurface/pkg/svi"
	"github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	readLimit  = 4096
	sendBuffer = 256
	jobBuffer  = 8
)

var errSessionClosed = errors.New("session closed")

// Inbound message types.
const (
	msgCalibrate = "calibrate"
	msgSelect    = "select"
	msgEvent     = "event"
	msgAck       = "ack"
)

// Outbound message types.
const (
	msgReact    = "react"
	msgRelayout = "relayout"
	msgStatus   = "status"
	msgSelector = "selector"
	msgError    = "error"
	msgHello    = "connected"
)

type inboundMessage struct {
	Type   string           `json:"type"`
	Symbol string           `json:"symbol,omitempty"`
	Index  int              `json:"index,omitempty"`
	View   string           `json:"view,omitempty"`
	Event  models.ViewEvent `json:"event,omitempty"`
	Seq    uint64           `json:"seq,omitempty"`
}

type outboundMessage struct {
	Type     string                     `json:"type"`
	View     string                     `json:"view,omitempty"`
	Seq      uint64                     `json:"seq,omitempty"`
	Figure   *render.Figure             `json:"figure,omitempty"`
	Update   render.Layout              `json:"update,omitempty"`
	Text     string                     `json:"text,omitempty"`
	Ready    bool                       `json:"ready"`
	Selector *calibration.SelectorState `json:"selector,omitempty"`
	Message  string                     `json:"message,omitempty"`
	Session  string                     `json:"session,omitempty"`
}

// Session is one browser page connected over a websocket. It owns the page's views,
// animator and calibration controller; nothing is shared with other sessions.
type Session struct {
	id         string
	conn       *websocket.Conn
	send       chan []byte
	jobs       chan inboundMessage
	logger     *logrus.Entry
	metrics    *metrics.Metrics
	ackTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	views    map[string]*wsView
	animator *animator.Animator
	ctrl     *calibration.Controller

	ackMu   sync.Mutex
	nextSeq uint64
	acks    map[uint64]chan struct{}

	closeOnce sync.Once
}

type sessionDeps struct {
	client     svi.Client
	frames     animator.FrameSource
	options    calibration.Options
	ackTimeout time.Duration
	logger     *logrus.Logger
	metrics    *metrics.Metrics
}

func newSession(parent context.Context, conn *websocket.Conn, deps sessionDeps) *Session {
	ctx, cancel := context.WithCancel(parent)
	id := uuid.NewString()

	s := &Session{
		id:         id,
		conn:       conn,
		send:       make(chan []byte, sendBuffer),
		jobs:       make(chan inboundMessage, jobBuffer),
		logger:     deps.logger.WithFields(logrus.Fields{"component": "session", "session": id}),
		metrics:    deps.metrics,
		ackTimeout: deps.ackTimeout,
		ctx:        ctx,
		cancel:     cancel,
		views:      make(map[string]*wsView),
		acks:       make(map[uint64]chan struct{}),
	}
	for _, name := range []string{render.ViewSurface, render.ViewSlices, render.ViewVols, render.ViewPrices} {
		s.views[name] = &wsView{id: name, session: s, handlers: make(map[int]func(models.ViewEvent))}
	}

	s.animator = animator.New(deps.frames, deps.logger, deps.metrics)
	s.ctrl = calibration.NewController(
		deps.client,
		s.animator,
		calibration.Views{
			Surface: s.views[render.ViewSurface],
			Slices:  s.views[render.ViewSlices],
			Vols:    s.views[render.ViewVols],
			Prices:  s.views[render.ViewPrices],
		},
		s,
		deps.options,
		deps.logger,
		deps.metrics,
	)
	return s
}

func (s *Session) ID() string {
	return s.id
}

// Run serves the session until the connection drops or the parent context ends.
func (s *Session) Run() {
	s.metrics.SessionOpened()
	defer s.metrics.SessionClosed()
	defer s.close()

	go s.writePump()
	go s.worker()

	s.post(outboundMessage{Type: msgHello, Session: s.id, Ready: true})
	s.logger.Info("Session opened")
	s.readPump()
	s.logger.Info("Session closed")
}

// Status implements calibration.Notifier.
func (s *Session) Status(text string, ready bool) {
	s.post(outboundMessage{Type: msgStatus, Text: text, Ready: ready})
}

// Selector implements calibration.Notifier.
func (s *Session) Selector(state calibration.SelectorState) {
	s.post(outboundMessage{Type: msgSelector, Selector: &state, Ready: true})
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.animator.Close()
		s.conn.Close()
	})
}

func (s *Session) readPump() {
	s.conn.SetReadLimit(readLimit)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg inboundMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.WithError(err).Warn("Websocket read failed")
			}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		s.handle(msg)
	}
}

func (s *Session) handle(msg inboundMessage) {
	switch msg.Type {
	case msgCalibrate, msgSelect:
		select {
		case s.jobs <- msg:
		default:
			s.sendError(fmt.Errorf("busy: %s dropped", msg.Type))
		}
	case msgEvent:
		view, ok := s.views[msg.View]
		if !ok || !msg.Event.Valid() {
			s.sendError(fmt.Errorf("unknown view event %q on %q", msg.Event, msg.View))
			return
		}
		view.notify(msg.Event)
	case msgAck:
		s.resolveAck(msg.Seq)
	default:
		s.sendError(fmt.Errorf("unknown message type %q", msg.Type))
	}
}

// worker runs user actions one at a time, off the read loop, so acknowledgements and
// view events keep flowing while a calibration is in progress.
func (s *Session) worker() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.jobs:
			switch msg.Type {
			case msgCalibrate:
				if msg.Symbol == "" {
					s.sendError(errors.New("calibrate requires a symbol"))
					continue
				}
				if err := s.ctrl.Calibrate(s.ctx, msg.Symbol); err != nil {
					s.sendError(err)
				}
			case msgSelect:
				if _, err := s.ctrl.Select(s.ctx, msg.Index); err != nil {
					s.sendError(err)
				}
			}
		}
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case <-s.ctx.Done():
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case message := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.logger.WithError(err).Warn("Websocket write failed")
				s.cancel()
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.cancel()
				return
			}
		}
	}
}

// post queues msg for the browser. It blocks while the send buffer is full.
func (s *Session) post(msg outboundMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.WithError(err).WithField("type", msg.Type).Error("Failed to encode message")
		return err
	}
	select {
	case s.send <- data:
		return nil
	case <-s.ctx.Done():
		return errSessionClosed
	}
}

func (s *Session) sendError(err error) {
	s.logger.WithError(err).Warn("Reporting error to browser")
	s.post(outboundMessage{Type: msgError, Message: err.Error()})
}

func (s *Session) expectAck() (uint64, chan struct{}) {
	s.ackMu.Lock()
	defer s.ackMu.Unlock()
	s.nextSeq++
	ch := make(chan struct{})
	s.acks[s.nextSeq] = ch
	return s.nextSeq, ch
}

func (s *Session) dropAck(seq uint64) {
	s.ackMu.Lock()
	delete(s.acks, seq)
	s.ackMu.Unlock()
}

func (s *Session) resolveAck(seq uint64) {
	s.ackMu.Lock()
	ch, ok := s.acks[seq]
	delete(s.acks, seq)
	s.ackMu.Unlock()
	if ok {
		close(ch)
	}
}

// wsView is a chart in the browser page, addressed by id over the session's socket.
type wsView struct {
	id      string
	session *Session

	mu       sync.Mutex
	handlers map[int]func(models.ViewEvent)
	nextSub  int
}

func (v *wsView) ID() string {
	return v.id
}

func (v *wsView) React(ctx context.Context, fig render.Figure) error {
	return v.session.post(outboundMessage{Type: msgReact, View: v.id, Figure: &fig})
}

// Relayout sends a layout update and waits for the browser to acknowledge it.
func (v *wsView) Relayout(ctx context.Context, update render.Layout) error {
	s := v.session
	seq, done := s.expectAck()
	if err := s.post(outboundMessage{Type: msgRelayout, View: v.id, Seq: seq, Update: update}); err != nil {
		s.dropAck(seq)
		return err
	}

	timer := time.NewTimer(s.ackTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		s.dropAck(seq)
		return fmt.Errorf("relayout %d on %s not acknowledged within %s", seq, v.id, s.ackTimeout)
	case <-ctx.Done():
		s.dropAck(seq)
		return ctx.Err()
	case <-s.ctx.Done():
		s.dropAck(seq)
		return errSessionClosed
	}
}

func (v *wsView) Subscribe(handler func(models.ViewEvent)) func() {
	v.mu.Lock()
	defer v.mu.Unlock()
	id := v.nextSub
	v.nextSub++
	v.handlers[id] = handler
	return func() {
		v.mu.Lock()
		delete(v.handlers, id)
		v.mu.Unlock()
	}
}

func (v *wsView) notify(ev models.ViewEvent) {
	v.mu.Lock()
	handlers := make([]func(models.ViewEvent), 0, len(v.handlers))
	for _, h := range v.handlers {
		handlers = append(handlers, h)
	}
	v.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}
