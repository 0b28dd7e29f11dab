// Package httpapi exposes the dialogue engine over HTTP: a Dialogflow
// CX-style webhook for the conversational turn, plus small JSON
// endpoints for consent, memory deletion, and login.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kdf-labs/empathicbot/pkg/agent"
	"github.com/kdf-labs/empathicbot/pkg/logger"
	"github.com/kdf-labs/empathicbot/pkg/memory"
	"github.com/kdf-labs/empathicbot/pkg/observability"
	"github.com/kdf-labs/empathicbot/pkg/profile"
)

// TokenVerifier resolves a bearer token to a user identity. The HTTP
// layer stays agnostic of the identity provider behind it.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (userID, username string, err error)
}

// AllowAllVerifier accepts any non-empty token and uses it as the user
// id. Local development only.
type AllowAllVerifier struct{}

func (AllowAllVerifier) Verify(_ context.Context, token string) (string, string, error) {
	if strings.TrimSpace(token) == "" {
		return "", "", errors.New("empty token")
	}
	return profile.SanitizeUserID(token), "", nil
}

// Server wires the HTTP routes to the dialogue engine.
type Server struct {
	router   chi.Router
	orch     *agent.Orchestrator
	profiles *profile.SQLiteStore
	memories *memory.Service
	verifier TokenVerifier
}

func NewServer(orch *agent.Orchestrator, profiles *profile.SQLiteStore, memories *memory.Service, verifier TokenVerifier) *Server {
	if verifier == nil {
		verifier = AllowAllVerifier{}
	}
	s := &Server{
		router:   chi.NewRouter(),
		orch:     orch,
		profiles: profiles,
		memories: memories,
		verifier: verifier,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", observability.MetricsHandler())
	s.router.Post("/dialogflow-webhook", s.handleWebhook)
	s.router.Post("/consent", s.handleConsent)
	s.router.Post("/delete_memories", s.handleDeleteMemories)
	s.router.Post("/login", s.handleLogin)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// webhookRequest mirrors the Dialogflow CX fulfillment envelope, plus a
// bare "text" field for simple clients.
type webhookRequest struct {
	Session  string `json:"session"`
	Text     string `json:"text"`
	Messages []struct {
		Text struct {
			Text []string `json:"text"`
		} `json:"text"`
	} `json:"messages"`
	SessionInfo struct {
		Parameters map[string]interface{} `json:"parameters"`
	} `json:"sessionInfo"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sessionID := "unknown_session"
	if req.Session != "" {
		parts := strings.Split(req.Session, "/")
		sessionID = parts[len(parts)-1]
	}

	params := stringifyParams(req.SessionInfo.Parameters)
	userID := params["user_id"]
	if userID == "" {
		userID = sessionID
	}

	userText := ""
	for _, m := range req.Messages {
		if len(m.Text.Text) > 0 && m.Text.Text[0] != "" {
			userText = m.Text.Text[0]
			break
		}
	}
	if userText == "" {
		userText = req.Text
	}
	if userText == "" {
		userText = "Hello"
	}

	resp := s.orch.HandleTurn(r.Context(), agent.TurnRequest{
		UserID:    userID,
		SessionID: sessionID,
		Message:   userText,
		Params:    params,
	})

	outParams := make(map[string]interface{}, len(resp.Params)+1)
	for k, v := range resp.Params {
		outParams[k] = v
	}
	outParams["user_id"] = profile.SanitizeUserID(userID)

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"fulfillment_response": map[string]interface{}{
			"messages": []map[string]interface{}{
				{"text": map[string]interface{}{"text": []string{resp.Reply}}},
			},
		},
		"session_info": map[string]interface{}{
			"parameters": outParams,
		},
	})
}

type consentRequest struct {
	UserID   string `json:"user_id"`
	Consent  bool   `json:"consent"`
	Username string `json:"username"`
}

func (s *Server) handleConsent(w http.ResponseWriter, r *http.Request) {
	var req consentRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		respondError(w, http.StatusBadRequest, "user_id required")
		return
	}

	p, err := s.profiles.SetConsent(r.Context(), req.UserID, req.Consent, req.Username)
	if err != nil {
		logger.ErrorCF("httpapi", "consent update failed", map[string]interface{}{
			"error": err.Error(),
		})
		respondError(w, http.StatusInternalServerError, "consent update failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"user_id": p.UserID,
		"consent": req.Consent,
	})
}

type deleteMemoriesRequest struct {
	UserID string `json:"user_id"`
}

func (s *Server) handleDeleteMemories(w http.ResponseWriter, r *http.Request) {
	var req deleteMemoriesRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		respondError(w, http.StatusBadRequest, "user_id required")
		return
	}

	count, err := s.memories.DeleteAll(r.Context(), profile.SanitizeUserID(req.UserID))
	if err != nil {
		logger.ErrorCF("httpapi", "memory deletion failed", map[string]interface{}{
			"error": err.Error(),
		})
		respondError(w, http.StatusInternalServerError, "memory deletion failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"deleted": count,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		respondError(w, http.StatusUnauthorized, "bearer token required")
		return
	}

	userID, username, err := s.verifier.Verify(r.Context(), token)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "token verification failed")
		return
	}

	p, err := s.profiles.GetOrCreate(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "profile load failed")
		return
	}
	if username != "" && p.Username == "" {
		p.Username = username
		if err := s.profiles.Save(r.Context(), p); err != nil {
			logger.WarnCF("httpapi", "username not persisted", map[string]interface{}{
				"user_id": p.UserID,
				"error":   err.Error(),
			})
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"profile": p,
	})
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return strings.TrimSpace(auth[len(prefix):])
	}
	return ""
}

func stringifyParams(raw map[string]interface{}) map[string]string {
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			out[k] = val
		case nil:
			// skip
		default:
			out[k] = fmt.Sprintf("%v", val)
		}
	}
	return out
}

var errEmptyBody = errors.New("empty request body")

func decodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return errEmptyBody
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return errEmptyBody
	}
	return err
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WarnCF("httpapi", "response encode failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
