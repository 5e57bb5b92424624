// Package api provides the HTTP interface of a SudokuMesh node.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/VanDung-dev/SudokuMesh-Engine/sudokumesh-engine/data"
	"github.com/VanDung-dev/SudokuMesh-Engine/sudokumesh-engine/ledger"
	"github.com/VanDung-dev/SudokuMesh-Engine/sudokumesh-engine/node"
	"github.com/VanDung-dev/SudokuMesh-Engine/sudokumesh-engine/sudoku"
)

// Version is the current version of the SudokuMesh Engine.
const Version = "0.1.0"

// ArrowStreamContentType is served by the Arrow export endpoints.
const ArrowStreamContentType = "application/vnd.apache.arrow.stream"

// maxSolveBody bounds POST /solve bodies.
const maxSolveBody = 64 * 1024

// Backend is the node surface the API serves.
type Backend interface {
	Stats(ctx context.Context) (node.StatsReport, error)
	Network(ctx context.Context) (node.TopologyReport, error)
	Solve(ctx context.Context, grid sudoku.Grid) (node.SolveResult, error)
	LedgerSnapshot() map[string]ledger.Entry
	Status() node.Status
}

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	// Address to listen on (e.g., ":8007")
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Address:      ":8007",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Minute,
	}
}

// Server serves the REST API.
type Server struct {
	config    *ServerConfig
	backend   Backend
	logger    *zap.Logger
	metrics   *Metrics
	converter *data.Converter
	ipc       *data.IPCWriter
	startTime time.Time

	httpServer *http.Server
	listener   net.Listener
	running    bool
	closed     bool
	mu         sync.RWMutex
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithMetrics records request metrics.
func WithMetrics(m *Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates a new HTTP server for backend.
func NewServer(config *ServerConfig, backend Backend, opts ...ServerOption) (*Server, error) {
	if backend == nil {
		return nil, errors.New("api: nil backend")
	}
	if config == nil {
		config = DefaultServerConfig()
	}

	s := &Server{
		config:    config,
		backend:   backend,
		converter: data.NewConverter(),
		ipc:       data.NewIPCWriter(),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.logger = s.logger.Named("api")
	return s, nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/stats", s.handleStats)
	r.Get("/stats/arrow", s.handleStatsArrow)
	r.Get("/network", s.handleNetwork)
	r.Get("/network/arrow", s.handleNetworkArrow)
	r.Post("/solve", s.handleSolve)
	return r
}

// Start listens on the configured address and serves until Stop (blocking).
// It returns nil after Stop, even when Stop came first.
func (s *Server) Start() error {
	lis, err := s.listen()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.serve(lis)
}

// StartAsync starts the server asynchronously and returns immediately.
func (s *Server) StartAsync() error {
	lis, err := s.listen()
	if err != nil {
		return err
	}
	go func() {
		if err := s.serve(lis); err != nil {
			s.logger.Error("http server failed", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) listen() (net.Listener, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, http.ErrServerClosed
	}
	if s.running {
		return nil, fmt.Errorf("server is already running")
	}
	lis, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}
	s.listener = lis
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
	}
	s.running = true
	s.startTime = time.Now()
	return lis, nil
}

func (s *Server) serve(lis net.Listener) error {
	s.logger.Info("http api listening", zap.Stringer("addr", lis.Addr()))
	if err := s.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if !s.running {
		return nil
	}
	s.running = false
	return s.httpServer.Shutdown(ctx)
}

type errorResponse struct {
	Error string `json:"error"`
}

type statsResponse struct {
	node.StatsReport
	Error string `json:"error,omitempty"`
}

type solveRequest struct {
	Sudoku *sudoku.Grid `json:"sudoku"`
}

type solveResponse struct {
	Sudoku sudoku.Grid `json:"sudoku"`
	// Time is the race duration in seconds.
	Time        float64 `json:"time"`
	Validations int64   `json:"validations"`
	Winner      string  `json:"winner"`
}

type statusResponse struct {
	Version string      `json:"version"`
	APIUp   string      `json:"api_uptime"`
	Node    node.Status `json:"node"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("encode response", zap.Error(err))
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, statusResponse{
		Version: Version,
		APIUp:   time.Since(s.startTime).Truncate(time.Second).String(),
		Node:    s.backend.Status(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	report, err := s.backend.Stats(r.Context())
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, statsResponse{StatsReport: report})
	case errors.Is(err, node.ErrQueryTimeout):
		s.writeJSON(w, http.StatusOK, statsResponse{StatsReport: report, Error: err.Error()})
	default:
		s.writeError(w, statusFor(err), err)
	}
}

func (s *Server) handleNetwork(w http.ResponseWriter, r *http.Request) {
	topo, err := s.backend.Network(r.Context())
	if err != nil && !(errors.Is(err, node.ErrQueryTimeout) && topo != nil) {
		s.writeError(w, statusFor(err), err)
		return
	}
	if err != nil {
		s.logger.Warn("serving partial topology", zap.Error(err))
	}
	s.writeJSON(w, http.StatusOK, topo)
}

func (s *Server) handleSolve(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSolveBody))
	if err != nil {
		s.writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	var req solveRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.Sudoku == nil {
		s.writeError(w, http.StatusBadRequest, errors.New("missing sudoku"))
		return
	}

	if s.metrics != nil {
		s.metrics.SolvesInFlight.Inc()
		defer s.metrics.SolvesInFlight.Dec()
	}
	res, err := s.backend.Solve(r.Context(), *req.Sudoku)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, solveResponse{
		Sudoku:      res.Grid,
		Time:        res.Elapsed.Seconds(),
		Validations: res.Validations,
		Winner:      res.Winner.String(),
	})
}

func (s *Server) handleStatsArrow(w http.ResponseWriter, r *http.Request) {
	record, err := s.converter.LedgerToArrowBatch(s.backend.LedgerSnapshot())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	defer record.Release()

	w.Header().Set("Content-Type", ArrowStreamContentType)
	if err := s.ipc.WriteTo(w, record); err != nil {
		s.logger.Warn("arrow export failed", zap.Error(err))
	}
}

func (s *Server) handleNetworkArrow(w http.ResponseWriter, r *http.Request) {
	topo, err := s.backend.Network(r.Context())
	if err != nil && !(errors.Is(err, node.ErrQueryTimeout) && topo != nil) {
		s.writeError(w, statusFor(err), err)
		return
	}
	record, err := s.converter.TopologyToArrowBatch(topo)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	defer record.Release()

	w.Header().Set("Content-Type", ArrowStreamContentType)
	if err := s.ipc.WriteTo(w, record); err != nil {
		s.logger.Warn("arrow export failed", zap.Error(err))
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, sudoku.ErrInvalidGrid):
		return http.StatusBadRequest
	case errors.Is(err, sudoku.ErrUnsolvable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, node.ErrQueryTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, node.ErrNoPeers), errors.Is(err, node.ErrNodeNotRunning), errors.Is(err, node.ErrNodeStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
