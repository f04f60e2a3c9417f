package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/skip2/go-qrcode"
	"urlshortener/internal/metrics"
	"urlshortener/internal/types"
)

const (
	maxBodyBytes = 1 << 20
	qrSize       = 256
)

// ClickRecorder receives a click for every successful redirect.
type ClickRecorder interface {
	PushClick(data types.ClickData)
}

type HealthCheck func(ctx context.Context) error

type Server struct {
	port      string
	baseURL   string
	shortener *Shortener
	analytics ClickRecorder
	health    HealthCheck
}

// NewServer wires the HTTP API. analytics and health may be nil.
func NewServer(port, baseURL string, shortener *Shortener, analytics ClickRecorder, health HealthCheck) *Server {
	return &Server{
		port:      port,
		baseURL:   baseURL,
		shortener: shortener,
		analytics: analytics,
		health:    health,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /links/shorten", s.handleShorten)
	mux.HandleFunc("GET /links/search", s.handleSearch)
	mux.HandleFunc("GET /links/{code}", s.handleResolve)
	mux.HandleFunc("PUT /links/{code}", s.handleUpdate)
	mux.HandleFunc("DELETE /links/{code}", s.handleDelete)
	mux.HandleFunc("GET /links/{code}/stats", s.handleStats)
	mux.HandleFunc("GET /links/{code}/qr", s.handleQR)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /{code}", s.handlerRedirect)
	return metrics.Middleware(mux)
}

func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errChan := make(chan error, 1)
	go func() { errChan <- srv.ListenAndServe() }()
	slog.Info("HTTP server listening", "addr", srv.Addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type linkRequest struct {
	OriginalURL string `json:"original_url"`
	CustomAlias string `json:"custom_alias,omitempty"`
}

type linkResponse struct {
	OriginalURL string    `json:"original_url"`
	ShortCode   string    `json:"short_code"`
	ShortURL    string    `json:"short_url"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Server) decodeLinkRequest(w http.ResponseWriter, r *http.Request) (linkRequest, bool) {
	var req linkRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, newError(KindInvalidInput, "request body must be a JSON object", err))
		return req, false
	}

	req.OriginalURL = strings.TrimSpace(req.OriginalURL)
	if err := ValidateOriginalURL(req.OriginalURL); err != nil {
		writeError(w, err)
		return req, false
	}
	if req.CustomAlias != "" {
		if err := ValidateAlias(req.CustomAlias); err != nil {
			writeError(w, err)
			return req, false
		}
	}
	return req, true
}

func (s *Server) handleShorten(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeLinkRequest(w, r)
	if !ok {
		return
	}

	link, err := s.shortener.Create(r.Context(), CreateRequest{
		OriginalURL: req.OriginalURL,
		CustomAlias: req.CustomAlias,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, linkResponse{
		OriginalURL: link.OriginalURL,
		ShortCode:   link.ShortCode,
		ShortURL:    ShortURL(s.baseURL, link.ShortCode),
		CreatedAt:   link.CreatedAt,
		ExpiresAt:   link.ExpiresAt,
	})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	target, err := s.shortener.Resolve(r.Context(), r.PathValue("code"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"redirect_to": target})
}

func (s *Server) handlerRedirect(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	target, err := s.shortener.Resolve(r.Context(), code)
	if err != nil {
		writeError(w, err)
		return
	}

	if s.analytics != nil {
		s.analytics.PushClick(types.ClickData{
			ShortCode: code,
			IP:        clientIP(r),
			UserAgent: r.UserAgent(),
			Referer:   r.Referer(),
			ClickedAt: time.Now().UTC(),
		})
	}

	http.Redirect(w, r, target, http.StatusFound)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeLinkRequest(w, r)
	if !ok {
		return
	}

	err := s.shortener.Update(r.Context(), r.PathValue("code"), UpdateRequest{
		OriginalURL: req.OriginalURL,
		CustomAlias: req.CustomAlias,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Link updated successfully"})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.shortener.Delete(r.Context(), r.PathValue("code")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Link deleted successfully"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.shortener.Stats(r.Context(), r.PathValue("code"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	originalURL := r.URL.Query().Get("original_url")
	if strings.TrimSpace(originalURL) == "" {
		writeError(w, newError(KindInvalidInput, "original_url query parameter is required", nil))
		return
	}

	code, err := s.shortener.SearchByOriginalURL(r.Context(), originalURL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"short_code": code})
}

func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	link, err := s.shortener.Get(r.Context(), r.PathValue("code"))
	if err != nil {
		writeError(w, err)
		return
	}

	png, err := qrcode.Encode(ShortURL(s.baseURL, link.ShortCode), qrcode.Medium, qrSize)
	if err != nil {
		writeError(w, newError(KindInternal, "failed to render qr code", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health(ctx); err != nil {
			slog.Warn("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func statusFor(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindAliasConflict, KindDuplicateOriginalURL:
		return http.StatusConflict
	case KindExpired:
		return http.StatusGone
	case KindInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := KindOf(err)
	message := "internal server error"

	switch kind {
	case KindInternal:
		slog.Error("request failed", "error", err)
	case KindGenerationExhausted:
		slog.Error("request failed", "error", err)
		message = ErrGenerationExhausted.Message
	default:
		var e *Error
		if errors.As(err, &e) {
			message = e.Message
		}
	}

	writeJSON(w, statusFor(kind), errorResponse{Error: kind.String(), Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
