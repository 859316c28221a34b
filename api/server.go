package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/gregtusar/volsurface/pkg/animator"
	"github.com/gregtusar/volsurface/pkg/calibration"
	"github.com/gregtusar/volsurface/pkg/grid"
	"github.com/gregtusar/volsurface/pkg/metrics"
	"github.com/gregtusar/volsurface/pkg/models"
	"github.com/gregtusar/volsurface/pkg/render"
	"github.com/gregtusar/volsurface/pkg/svi"
	"github.com/sirupsen/logrus"
)

const (
	defaultPNGWidth  = 800
	defaultPNGHeight = 450
	maxPNGSide       = 4096
	maxSurfaceBody   = 8 << 20
)

// Options configures the HTTP server and the sessions it opens.
type Options struct {
	Port        int
	StaticDir   string
	AckTimeout  time.Duration
	FPS         int
	Calibration calibration.Options
}

type Server struct {
	client  svi.Client
	logger  *logrus.Logger
	metrics *metrics.Metrics
	opts    Options

	upgrader   websocket.Upgrader
	httpServer *http.Server

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*Session
	wg       sync.WaitGroup
}

func NewServer(client svi.Client, opts Options, logger *logrus.Logger, m *metrics.Metrics) *Server {
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = 5 * time.Second
	}
	if opts.FPS <= 0 {
		opts.FPS = 30
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		client:  client,
		logger:  logger,
		metrics: m,
		opts:    opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*Session),
	}
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the full route table wrapped in the CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// API endpoints
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/allslices", s.handleAllSlices)
	mux.HandleFunc("/api/oneslice", s.handleOneSlice)
	mux.HandleFunc("/api/surface", s.handleSurface)
	mux.HandleFunc("/api/slice.png", s.handleSlicePNG)
	mux.Handle("/metrics", s.metrics.Handler())
	mux.HandleFunc("/ws", s.handleWebSocket)

	if s.opts.StaticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.opts.StaticDir)))
	}

	return corsMiddleware(mux)
}

func (s *Server) Start() error {
	s.logger.Infof("Starting API server on port %d", s.opts.Port)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, closes every open session and waits for them to end.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)

	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

// SessionCount reports the number of open websocket sessions.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) session(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id]
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"sessions":  s.SessionCount(),
		"timestamp": time.Now().UTC(),
	}

	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleAllSlices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	symbol, ok := s.requireSymbol(w, r)
	if !ok {
		return
	}

	samples, err := s.client.AllSlices(r.Context(), symbol)
	if err != nil {
		s.writeUpstreamError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"slices_df": samples})
}

func (s *Server) handleOneSlice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	slice, ok := s.fetchSlice(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, slice)
}

// handleSurface serves a symbol's gridded surface on GET. POST takes a pre-gridded
// {x, y, z} body and skips gridding. With figure=true the response is the Plotly figure.
func (s *Server) handleSurface(w http.ResponseWriter, r *http.Request) {
	var g models.SurfaceGrid
	switch r.Method {
	case http.MethodGet:
		symbol, ok := s.requireSymbol(w, r)
		if !ok {
			return
		}
		samples, err := s.client.AllSlices(r.Context(), symbol)
		if err != nil {
			s.writeUpstreamError(w, err)
			return
		}
		g = grid.Gridify(grid.Normalized(samples))

	case http.MethodPost:
		var dense models.DenseGrid
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSurfaceBody)).Decode(&dense); err != nil {
			http.Error(w, fmt.Sprintf("invalid surface body: %v", err), http.StatusBadRequest)
			return
		}
		var err error
		g, err = grid.FromDense(dense.X, dense.Y, dense.Z)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if wantFigure, _ := strconv.ParseBool(r.URL.Query().Get("figure")); wantFigure {
		fig, err := render.SurfaceFigure(g, render.DefaultSurfaceOptions())
		if err != nil {
			s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		s.writeJSON(w, http.StatusOK, fig)
		return
	}
	s.writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleSlicePNG(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	width, err := intParam(r, "width", defaultPNGWidth)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	height, err := intParam(r, "height", defaultPNGHeight)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	slice, ok := s.fetchSlice(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := render.SlicePNG(&buf, slice, width, height); err != nil {
		s.logger.WithError(err).Error("Failed to render slice chart")
		status := http.StatusInternalServerError
		if errors.Is(err, render.ErrTooFewStrikes) || errors.Is(err, render.ErrNonPositiveT) {
			status = http.StatusUnprocessableEntity
		}
		s.writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		s.logger.WithError(err).Warn("Failed to write slice chart")
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Error("Failed to upgrade connection")
		return
	}

	sess := newSession(s.ctx, conn, sessionDeps{
		client:     s.client,
		frames:     animator.TickerFrames(s.opts.FPS),
		options:    s.opts.Calibration,
		ackTimeout: s.opts.AckTimeout,
		logger:     s.logger,
		metrics:    s.metrics,
	})

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.sessions[sess.ID()] = sess
	s.wg.Add(1)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess.ID())
		s.mu.Unlock()
		s.wg.Done()
	}()

	sess.Run()
}

func (s *Server) fetchSlice(w http.ResponseWriter, r *http.Request) (*models.Slice, bool) {
	symbol, ok := s.requireSymbol(w, r)
	if !ok {
		return nil, false
	}
	raw := r.URL.Query().Get("t")
	t, err := strconv.ParseFloat(raw, 64)
	if err != nil || t <= 0 {
		http.Error(w, fmt.Sprintf("invalid maturity %q", raw), http.StatusBadRequest)
		return nil, false
	}
	optionType := r.URL.Query().Get("type")
	if optionType != "" && optionType != svi.OptionTypeCall && optionType != svi.OptionTypePut {
		http.Error(w, fmt.Sprintf("invalid option type %q", optionType), http.StatusBadRequest)
		return nil, false
	}

	slice, err := s.client.OneSlice(r.Context(), symbol, models.Normalize(t), optionType)
	if err != nil {
		s.writeUpstreamError(w, err)
		return nil, false
	}
	return slice, true
}

func (s *Server) requireSymbol(w http.ResponseWriter, r *http.Request) (string, bool) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		http.Error(w, "symbol is required", http.StatusBadRequest)
		return "", false
	}
	return symbol, true
}

func (s *Server) writeUpstreamError(w http.ResponseWriter, err error) {
	s.logger.WithError(err).Warn("Upstream model request failed")
	status := http.StatusBadGateway
	var apiErr *svi.APIError
	if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 {
		status = apiErr.Status
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 || v > maxPNGSide {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return v, nil
}
