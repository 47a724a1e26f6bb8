package worker

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/chartsense/internal/protocol"
	"github.com/thebtf/chartsense/internal/sessions"
	"github.com/thebtf/chartsense/pkg/analysis"
)

// maxBodyBytes bounds request bodies. Analyses are text, a few KB each.
const maxBodyBytes = 1 << 20

func (s *Service) setupRoutes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsHeaders)

	r.Get("/", serveIndex)
	r.Get("/assets/*", serveAssets)
	r.Get("/api/health", s.handleHealth)
	r.Get("/api/version", s.handleVersion)

	r.Group(func(r chi.Router) {
		if s.verifier != nil {
			r.Use(s.verifier.Middleware)
		}
		r.Use(s.requireReady)

		r.Post("/api/message", s.handleMessage)

		r.Route("/api/sessions", func(r chi.Router) {
			r.Get("/", s.handleListSessions)
			r.Post("/", s.handleSaveSession)
			r.Delete("/today", s.handleClearToday)
			r.Get("/stats", s.handleStats)
			r.Get("/days", s.handleDays)
		})

		r.Post("/api/analysis", s.handleSaveAnalysis)
		r.Post("/api/retention", s.handleRetention)
		r.Get("/api/providers", s.handleProviders)
		r.Get("/api/prompt", s.handlePrompt)

		r.Get("/api/events", s.sseBroadcaster.HandleSSE)
		r.Get("/api/ws", s.wsHub.ServeHTTP)
	})
}

// requireReady answers 503 until Init has completed.
func (s *Service) requireReady(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			writeJSON(w, http.StatusServiceUnavailable, protocol.Response{Error: "worker is starting"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleMessage is the extension's message endpoint. Protocol failures are reported
// in the body with HTTP 200; only an undecodable request is a 400.
func (s *Service) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req protocol.Request
	if err := decodeBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, protocol.Fail(err))
		return
	}
	writeJSON(w, http.StatusOK, s.dispatcher.Handle(r.Context(), req))
}

func (s *Service) handleListSessions(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, protocol.Request{
		Action: protocol.ActionGetChatSessions,
		Date:   r.URL.Query().Get("date"),
	}, http.StatusOK)
}

func (s *Service) handleSaveSession(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, protocol.Fail(err))
		return
	}
	s.dispatch(w, r, protocol.Request{
		Action: protocol.ActionSaveChatSession,
		Data:   body,
	}, http.StatusCreated)
}

func (s *Service) handleClearToday(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, protocol.Request{Action: protocol.ActionClearTodaysSessions}, http.StatusOK)
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, protocol.Request{Action: protocol.ActionGetSessionStats}, http.StatusOK)
}

func (s *Service) handleDays(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, protocol.Request{Action: protocol.ActionGetSessionDays}, http.StatusOK)
}

func (s *Service) handleSaveAnalysis(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Provider string `json:"provider"`
		Text     string `json:"text"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, protocol.Fail(err))
		return
	}
	s.dispatch(w, r, protocol.Request{
		Action:   protocol.ActionSaveAnalysis,
		Provider: body.Provider,
		Text:     body.Text,
	}, http.StatusCreated)
}

func (s *Service) handleRetention(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, protocol.Request{Action: protocol.ActionRunRetention}, http.StatusOK)
}

func (s *Service) handleProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"providers": s.providers.All(),
	})
}

// handlePrompt returns the analysis prompt. ?instructions= replaces the default instructions.
func (s *Service) handlePrompt(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"prompt": analysis.BuildPrompt(r.URL.Query().Get("instructions")),
	})
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if !s.ready.Load() {
		status, code = "starting", http.StatusServiceUnavailable
	}
	body := map[string]interface{}{
		"status":     status,
		"version":    s.version,
		"backend":    s.config.Backend,
		"uptime":     time.Since(s.startTime).Round(time.Second).String(),
		"sseClients": s.sseBroadcaster.ClientCount(),
		"wsClients":  s.wsHub.ClientCount(),
	}
	if code == http.StatusOK {
		last, err := s.store.LastRetention(r.Context())
		if err != nil {
			log.Debug().Err(err).Msg("Health: cannot read last retention")
		} else {
			body["lastRetention"] = last
		}
	}
	writeJSON(w, code, body)
}

func (s *Service) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

// dispatch runs a REST request through the protocol and maps errors to HTTP status codes.
func (s *Service) dispatch(w http.ResponseWriter, r *http.Request, req protocol.Request, okStatus int) {
	resp, err := s.dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		code := statusFor(err)
		if code >= http.StatusInternalServerError {
			log.Error().Err(err).Str("action", req.Action).Msg("Request failed")
		}
		writeJSON(w, code, protocol.Fail(err))
		return
	}
	writeJSON(w, okStatus, resp)
}

func statusFor(err error) int {
	var verr *sessions.ValidationError
	switch {
	case errors.As(err, &verr), errors.Is(err, protocol.ErrUnknownAction):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}
