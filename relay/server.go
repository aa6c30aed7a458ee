// Package relay serves the advisor stream framing over HTTP, backed by an
// upstream llm.Client.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/KamdynS/advisor/chat"
	"github.com/KamdynS/advisor/credit"
	"github.com/KamdynS/advisor/frame"
	"github.com/KamdynS/advisor/llm"
	"github.com/KamdynS/advisor/observability"
)

// MetadataFunc derives the trust metadata sent ahead of a response.
type MetadataFunc func(req *chat.StreamRequest) *frame.Metadata

// Config holds relay configuration.
type Config struct {
	Client llm.Client
	Port   int
	// Token, when set, is required as a bearer credential.
	Token string
	// SystemPrompt is prefixed to every request; the mode name is appended.
	SystemPrompt string
	Heartbeat    time.Duration
	Metadata     MetadataFunc
	Hooks        *observability.Hooks
}

// Server is the HTTP relay.
type Server struct {
	cfg        Config
	httpServer *http.Server
}

// New creates a relay server.
func New(cfg Config) (*Server, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = "You are a business advisor. Be specific and practical."
	}
	if cfg.Metadata == nil {
		cfg.Metadata = DefaultMetadata
	}
	s := &Server{cfg: cfg}
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the relay's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.cfg.Hooks.SafeLog(context.Background(), "info", "relay listening", map[string]any{"port": s.cfg.Port, "model": s.cfg.Client.Model()})
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// DefaultMetadata marks every answer as inference at medium confidence, with
// web-research modes flagged in the explanation.
func DefaultMetadata(req *chat.StreamRequest) *frame.Metadata {
	md := &frame.Metadata{
		ConfidenceLevel: "medium",
		DataSensitivity: "standard",
		IsInference:     true,
		Explanation:     "Generated from the conversation so far.",
		Factors:         []string{"conversation_history"},
	}
	if m, ok := credit.LookupMode(req.Mode); ok && m.WebResearch {
		md.Explanation = "Includes web research; verify sources before acting."
		md.Factors = append(md.Factors, "web_research")
	}
	return md
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.cfg.Token != "" && r.Header.Get("Authorization") != "Bearer "+s.cfg.Token {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req chat.StreamRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages are required")
		return
	}
	mode, ok := credit.LookupMode(req.Mode)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown mode %q", req.Mode))
		return
	}

	creq := &llm.ChatRequest{
		Mode:         mode.ID,
		SystemPrompt: strings.TrimSpace(s.cfg.SystemPrompt + " Mode: " + mode.Name + "."),
	}
	for _, m := range req.Messages {
		creq.Messages = append(creq.Messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	ctx := r.Context()
	start := time.Now()
	st, err := s.cfg.Client.ChatStream(ctx, creq)
	if err != nil {
		s.cfg.Hooks.SafeLog(ctx, "error", "upstream open failed", map[string]any{"mode": mode.ID, "error": err.Error()})
		writeError(w, http.StatusBadGateway, "upstream unavailable")
		return
	}
	defer st.Close()

	err = StreamFrames(ctx, w, st, s.cfg.Metadata(&req), s.cfg.Heartbeat)
	fields := map[string]any{"mode": mode.ID, "duration_ms": time.Since(start).Milliseconds()}
	if err != nil {
		fields["error"] = err.Error()
		s.cfg.Hooks.SafeLog(ctx, "warn", "stream ended with error", fields)
		return
	}
	s.cfg.Hooks.SafeLog(ctx, "info", "stream complete", fields)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "healthy", "model": s.cfg.Client.Model(), "time": time.Now().UTC()})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
