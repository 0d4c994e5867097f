// Package admin exposes the JSON administration API for hooks, domains
// and the delivery log.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mailhook/mailhook/internal/hook"
	"github.com/mailhook/mailhook/internal/store"
)

// HookStore is the write side of the hook registry.
type HookStore interface {
	CreateHook(ctx context.Context, h hook.Hook) (hook.Hook, error)
	GetHook(ctx context.Context, id string) (hook.Hook, error)
	ListHooks(ctx context.Context) ([]hook.Hook, error)
	UpdateHook(ctx context.Context, h hook.Hook) (hook.Hook, error)
	DeleteHook(ctx context.Context, id string) error
}

// DomainStore manages custom mail domains.
type DomainStore interface {
	CreateDomain(ctx context.Context, name string) (hook.Domain, error)
	ListDomains(ctx context.Context) ([]hook.Domain, error)
	VerifyDomain(ctx context.Context, id string) (hook.Domain, error)
	DeleteDomain(ctx context.Context, id string) error
}

// DeliveryStore reads back logged delivery attempts.
type DeliveryStore interface {
	ListDeliveries(ctx context.Context, limit int) ([]hook.LoggedAttempt, error)
}

// Server is the admin API HTTP server.
type Server struct {
	hooks      HookStore
	domains    DomainStore
	deliveries DeliveryStore
	logger     *slog.Logger
}

// NewServer wires the admin API against the store.
func NewServer(hooks HookStore, domains DomainStore, deliveries DeliveryStore, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		hooks:      hooks,
		domains:    domains,
		deliveries: deliveries,
		logger:     logger,
	}
}

// Handler returns the routed admin API handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /hooks", s.createHook)
	mux.HandleFunc("GET /hooks", s.listHooks)
	mux.HandleFunc("GET /hooks/{id}", s.getHook)
	mux.HandleFunc("PUT /hooks/{id}", s.updateHook)
	mux.HandleFunc("DELETE /hooks/{id}", s.deleteHook)
	mux.HandleFunc("POST /domains", s.createDomain)
	mux.HandleFunc("GET /domains", s.listDomains)
	mux.HandleFunc("POST /domains/{id}/verify", s.verifyDomain)
	mux.HandleFunc("DELETE /domains/{id}", s.deleteDomain)
	mux.HandleFunc("GET /deliveries", s.listDeliveries)
	return s.logRequests(mux)
}

// ListenAndServe runs the admin API until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("admin API listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// hookRequest is the create/update body for a hook.
type hookRequest struct {
	Email         string `json:"email"`
	WebhookURL    string `json:"webhookUrl"`
	WebhookSecret string `json:"webhookSecret"`
	IsEnabled     *bool  `json:"isEnabled"`
}

// hookResponse never echoes the secret back; it only reports whether one
// is set.
type hookResponse struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	WebhookURL string `json:"webhookUrl"`
	HasSecret  bool   `json:"hasSecret"`
	IsEnabled  bool   `json:"isEnabled"`
}

func toHookResponse(h hook.Hook) hookResponse {
	return hookResponse{
		ID:         h.ID,
		Email:      h.Email,
		WebhookURL: h.WebhookURL,
		HasSecret:  h.WebhookSecret != "",
		IsEnabled:  h.IsEnabled,
	}
}

func (s *Server) createHook(w http.ResponseWriter, r *http.Request) {
	var req hookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validateHookRequest(req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	enabled := true
	if req.IsEnabled != nil {
		enabled = *req.IsEnabled
	}
	created, err := s.hooks.CreateHook(r.Context(), hook.Hook{
		Email:         req.Email,
		WebhookURL:    req.WebhookURL,
		WebhookSecret: req.WebhookSecret,
		IsEnabled:     enabled,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			s.writeError(w, http.StatusConflict, "hook already exists for this email")
			return
		}
		s.internalError(w, "create hook", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toHookResponse(created))
}

func (s *Server) listHooks(w http.ResponseWriter, r *http.Request) {
	hooks, err := s.hooks.ListHooks(r.Context())
	if err != nil {
		s.internalError(w, "list hooks", err)
		return
	}
	out := make([]hookResponse, 0, len(hooks))
	for _, h := range hooks {
		out = append(out, toHookResponse(h))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) getHook(w http.ResponseWriter, r *http.Request) {
	h, err := s.hooks.GetHook(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, hook.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "hook not found")
			return
		}
		s.internalError(w, "get hook", err)
		return
	}
	s.writeJSON(w, http.StatusOK, toHookResponse(h))
}

func (s *Server) updateHook(w http.ResponseWriter, r *http.Request) {
	var req hookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validateHookRequest(req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	enabled := true
	if req.IsEnabled != nil {
		enabled = *req.IsEnabled
	}
	updated, err := s.hooks.UpdateHook(r.Context(), hook.Hook{
		ID:            r.PathValue("id"),
		Email:         req.Email,
		WebhookURL:    req.WebhookURL,
		WebhookSecret: req.WebhookSecret,
		IsEnabled:     enabled,
	})
	if err != nil {
		switch {
		case errors.Is(err, hook.ErrNotFound):
			s.writeError(w, http.StatusNotFound, "hook not found")
		case errors.Is(err, store.ErrDuplicate):
			s.writeError(w, http.StatusConflict, "hook already exists for this email")
		default:
			s.internalError(w, "update hook", err)
		}
		return
	}
	s.writeJSON(w, http.StatusOK, toHookResponse(updated))
}

func (s *Server) deleteHook(w http.ResponseWriter, r *http.Request) {
	if err := s.hooks.DeleteHook(r.Context(), r.PathValue("id")); err != nil {
		if errors.Is(err, hook.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "hook not found")
			return
		}
		s.internalError(w, "delete hook", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type domainRequest struct {
	Name string `json:"name"`
}

type domainResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Verified bool   `json:"verified"`
}

func toDomainResponse(d hook.Domain) domainResponse {
	return domainResponse{ID: d.ID, Name: d.Name, Verified: d.Verified}
}

func (s *Server) createDomain(w http.ResponseWriter, r *http.Request) {
	var req domainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	name := strings.ToLower(strings.TrimSpace(req.Name))
	if name == "" || !strings.Contains(name, ".") {
		s.writeError(w, http.StatusBadRequest, "a valid domain name is required")
		return
	}

	created, err := s.domains.CreateDomain(r.Context(), name)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			s.writeError(w, http.StatusConflict, "domain already exists")
			return
		}
		s.internalError(w, "create domain", err)
		return
	}

	// Verification is a stub: domains are approved immediately on
	// creation, there is no token exchange.
	verified, err := s.domains.VerifyDomain(r.Context(), created.ID)
	if err != nil {
		s.internalError(w, "verify domain", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toDomainResponse(verified))
}

func (s *Server) listDomains(w http.ResponseWriter, r *http.Request) {
	domains, err := s.domains.ListDomains(r.Context())
	if err != nil {
		s.internalError(w, "list domains", err)
		return
	}
	out := make([]domainResponse, 0, len(domains))
	for _, d := range domains {
		out = append(out, toDomainResponse(d))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) verifyDomain(w http.ResponseWriter, r *http.Request) {
	d, err := s.domains.VerifyDomain(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrDomainNotFound) {
			s.writeError(w, http.StatusNotFound, "domain not found")
			return
		}
		s.internalError(w, "verify domain", err)
		return
	}
	s.writeJSON(w, http.StatusOK, toDomainResponse(d))
}

func (s *Server) deleteDomain(w http.ResponseWriter, r *http.Request) {
	if err := s.domains.DeleteDomain(r.Context(), r.PathValue("id")); err != nil {
		if errors.Is(err, store.ErrDomainNotFound) {
			s.writeError(w, http.StatusNotFound, "domain not found")
			return
		}
		s.internalError(w, "delete domain", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type deliveryResponse struct {
	ID             string `json:"id"`
	HookID         string `json:"hookId"`
	FromAddress    string `json:"fromAddress"`
	Subject        string `json:"subject"`
	Status         string `json:"status"`
	HTTPStatusCode *int   `json:"httpStatusCode"`
	ErrorMessage   string `json:"errorMessage,omitempty"`
	CreatedAt      string `json:"createdAt"`
}

func (s *Server) listDeliveries(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	attempts, err := s.deliveries.ListDeliveries(r.Context(), limit)
	if err != nil {
		s.internalError(w, "list deliveries", err)
		return
	}
	out := make([]deliveryResponse, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, deliveryResponse{
			ID:             a.ID,
			HookID:         a.HookID,
			FromAddress:    a.FromAddress,
			Subject:        a.Subject,
			Status:         a.Status,
			HTTPStatusCode: a.HTTPStatusCode,
			ErrorMessage:   a.ErrorMessage,
			CreatedAt:      a.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func validateHookRequest(req hookRequest) error {
	email := strings.TrimSpace(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		return errors.New("a valid email address is required")
	}
	target, err := url.Parse(req.WebhookURL)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return errors.New("webhookUrl must be an http or https URL")
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error("admin API error", "op", op, "error", err)
	s.writeError(w, http.StatusInternalServerError, "internal error")
}

// logRequests logs each admin request at debug level.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("admin request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}
