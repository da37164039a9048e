// Package mockserver is an in-memory stand-in for the template service.
//
// It answers the createTemplate mutation and the getTemplate query on a
// single endpoint. A created template starts PENDING, moves to GENERATING on
// its first poll, and becomes terminal after Config.PollsToComplete polls.
// Failures can be injected by ratio for load-testing the harness itself.
package mockserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Config controls the behavior of the mock backend.
type Config struct {
	// PollsToComplete is the poll number at which a template turns terminal.
	// Values below 1 are treated as 1.
	PollsToComplete int

	// Never makes every template stay in GENERATING.
	Never bool

	// CreateFailureRatio of creates answer HTTP 500 with a GraphQL error.
	CreateFailureRatio float64

	// MissingIDRatio of creates succeed but omit the template id.
	MissingIDRatio float64

	// FailedRatio of templates end FAILED instead of COMPLETED.
	FailedRatio float64

	// Latency is added to every response.
	Latency time.Duration
}

// DefaultConfig returns a backend that completes every template on the third poll.
func DefaultConfig() Config {
	return Config{PollsToComplete: 3}
}

type templateRecord struct {
	id     string
	name   string
	polls  int
	failed bool
}

// Server implements http.Handler.
type Server struct {
	cfg    Config
	logger *zap.Logger

	mu        sync.Mutex
	templates map[string]*templateRecord

	creates atomic.Int64
	polls   atomic.Int64
}

// New creates a mock backend. A nil logger disables logging.
func New(cfg Config, logger *zap.Logger) *Server {
	if cfg.PollsToComplete < 1 {
		cfg.PollsToComplete = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:       cfg,
		logger:    logger,
		templates: make(map[string]*templateRecord),
	}
}

// Creates returns the number of createTemplate calls received.
func (s *Server) Creates() int64 { return s.creates.Load() }

// Polls returns the number of getTemplate calls received.
func (s *Server) Polls() int64 { return s.polls.Load() }

// Templates returns the number of templates stored.
func (s *Server) Templates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.templates)
}

type gqlError struct {
	Message string `json:"message"`
}

type templatePayload struct {
	ID     string  `json:"id,omitempty"`
	Status string  `json:"status"`
	ZipURL *string `json:"zipUrl"`
}

type operationPayload struct {
	Success  bool             `json:"success"`
	Message  string           `json:"message"`
	Template *templatePayload `json:"template"`
}

type response struct {
	Data   map[string]operationPayload `json:"data,omitempty"`
	Errors []gqlError                  `json:"errors,omitempty"`
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, response{Errors: []gqlError{{Message: "only POST is supported"}}})
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil || !gjson.ValidBytes(body) {
		writeJSON(w, http.StatusBadRequest, response{Errors: []gqlError{{Message: "request body must be JSON"}}})
		return
	}

	if s.cfg.Latency > 0 {
		select {
		case <-time.After(s.cfg.Latency):
		case <-r.Context().Done():
			return
		}
	}

	query := gjson.GetBytes(body, "query").String()
	switch {
	case strings.Contains(query, "createTemplate"):
		s.handleCreate(w, body)
	case strings.Contains(query, "getTemplate"):
		s.handleGet(w, body)
	default:
		writeJSON(w, http.StatusOK, response{Errors: []gqlError{{Message: "unknown operation"}}})
	}
}

func (s *Server) handleCreate(w http.ResponseWriter, body []byte) {
	s.creates.Add(1)

	if hit(s.cfg.CreateFailureRatio) {
		s.logger.Debug("injected create failure")
		writeJSON(w, http.StatusInternalServerError, response{Errors: []gqlError{{Message: "injected failure"}}})
		return
	}

	name := gjson.GetBytes(body, "variables.in.name").String()
	if name == "" {
		writeJSON(w, http.StatusOK, response{Data: map[string]operationPayload{
			"createTemplate": {Success: false, Message: "name is required"},
		}})
		return
	}

	rec := &templateRecord{
		id:     uuid.NewString(),
		name:   name,
		failed: hit(s.cfg.FailedRatio),
	}
	s.mu.Lock()
	s.templates[rec.id] = rec
	s.mu.Unlock()

	tpl := &templatePayload{ID: rec.id, Status: "PENDING"}
	if hit(s.cfg.MissingIDRatio) {
		tpl.ID = ""
	}

	s.logger.Debug("template created", zap.String("id", rec.id), zap.String("name", name))
	writeJSON(w, http.StatusOK, response{Data: map[string]operationPayload{
		"createTemplate": {Success: true, Message: "template accepted", Template: tpl},
	}})
}

func (s *Server) handleGet(w http.ResponseWriter, body []byte) {
	s.polls.Add(1)

	id := gjson.GetBytes(body, "variables.id").String()

	s.mu.Lock()
	rec, ok := s.templates[id]
	var status string
	if ok {
		rec.polls++
		status = s.statusLocked(rec)
	}
	s.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusOK, response{Data: map[string]operationPayload{
			"getTemplate": {Success: false, Message: "template not found"},
		}})
		return
	}

	tpl := &templatePayload{Status: status}
	if status == "COMPLETED" {
		url := "https://artifacts.local/templates/" + rec.id + ".zip"
		tpl.ZipURL = &url
	}
	writeJSON(w, http.StatusOK, response{Data: map[string]operationPayload{
		"getTemplate": {Success: true, Message: "ok", Template: tpl},
	}})
}

func (s *Server) statusLocked(rec *templateRecord) string {
	switch {
	case s.cfg.Never:
		return "GENERATING"
	case rec.polls >= s.cfg.PollsToComplete && rec.failed:
		return "FAILED"
	case rec.polls >= s.cfg.PollsToComplete:
		return "COMPLETED"
	default:
		return "GENERATING"
	}
}

func hit(ratio float64) bool {
	if ratio <= 0 {
		return false
	}
	if ratio >= 1 {
		return true
	}
	return rand.Float64() < ratio
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ListenAndServe serves the mock backend on addr until ctx is cancelled.
func ListenAndServe(ctx context.Context, addr string, s *Server) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("mock server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
