package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/lexcodex/deepresearch/research"
)

// RunIndex is the read side of the run store, used for listing and
// inspecting past runs.
type RunIndex interface {
	Load(runID string) (*research.RunSnapshot, error)
	List() ([]research.RunSnapshot, error)
}

// APIServer exposes HTTP endpoints for driving research runs without a
// JSON-RPC client.
type APIServer struct {
	Runner *research.Runner
	Runs   RunIndex
	Logger *zap.Logger

	// RunTimeout bounds a single synchronous research run. Zero means the
	// 30 minute default.
	RunTimeout time.Duration
}

// ResearchRequest describes the incoming API payload.
type ResearchRequest struct {
	Prompt string `json:"prompt"`
	RunID  string `json:"run_id,omitempty"`
}

// ResearchResponse summarizes the finished (or failed) run.
type ResearchResponse struct {
	Topic        string `json:"topic"`
	Phase        string `json:"phase"`
	DocumentPath string `json:"document_path"`
	NotesPath    string `json:"notes_path"`
	Error        string `json:"error,omitempty"`
}

// RunSummary is one entry in the run listing.
type RunSummary struct {
	RunID     string    `json:"run_id"`
	Topic     string    `json:"topic"`
	Phase     string    `json:"phase"`
	Completed bool      `json:"completed"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Serve starts listening on the provided address.
func (s *APIServer) Serve(addr string) error {
	return s.ServeContext(context.Background(), addr)
}

// ServeContext allows the caller to control shutdown via context cancellation.
func (s *APIServer) ServeContext(ctx context.Context, addr string) error {
	server := s.newHTTPServer(addr)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	if s.Logger != nil {
		s.Logger.Info("API listening", zap.String("addr", addr))
	}
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *APIServer) newHTTPServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/research", s.handleResearch)
	mux.HandleFunc("/api/resume", s.handleResume)
	mux.HandleFunc("/api/runs", s.handleRuns)
	return &http.Server{
		Addr:    addr,
		Handler: mux,
	}
}

func (s *APIServer) runTimeout() time.Duration {
	if s.RunTimeout > 0 {
		return s.RunTimeout
	}
	return 30 * time.Minute
}

func (s *APIServer) handleResearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req ResearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Prompt == "" {
		http.Error(w, "prompt is required", http.StatusBadRequest)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.runTimeout())
	defer cancel()
	state, err := s.Runner.Run(ctx, req.Prompt)
	writeJSON(w, summarize(state, err))
}

func (s *APIServer) handleResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req ResearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.RunID == "" {
		http.Error(w, "run_id is required", http.StatusBadRequest)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.runTimeout())
	defer cancel()
	state, err := s.Runner.Resume(ctx, req.RunID)
	if state == nil && err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, summarize(state, err))
}

func (s *APIServer) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.Runs == nil {
		http.Error(w, "run listing not configured", http.StatusNotImplemented)
		return
	}
	snapshots, err := s.Runs.List()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	summaries := make([]RunSummary, 0, len(snapshots))
	for _, snap := range snapshots {
		summaries = append(summaries, RunSummary{
			RunID:     snap.RunID,
			Topic:     snap.State.Topic(),
			Phase:     string(snap.Phase),
			Completed: snap.Completed,
			UpdatedAt: snap.UpdatedAt,
		})
	}
	writeJSON(w, summaries)
}

// summarize flattens a run outcome into the response shape. A failed run
// still carries the partial document it finalized.
func summarize(state *research.State, err error) ResearchResponse {
	resp := ResearchResponse{}
	if state != nil {
		resp.Topic = state.Topic()
		resp.Phase = string(state.CurrentPhase)
		resp.DocumentPath = state.DocumentPath
		resp.NotesPath = state.NotesPath
	}
	if err != nil {
		resp.Error = err.Error()
	}
	return resp
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
