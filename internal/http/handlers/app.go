package handlers

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"studio/internal/domain"
	"studio/internal/infra"
	"studio/internal/infra/geoip"
	"studio/internal/middleware"
	"studio/internal/studio"
)

// App bundles the dependencies every handler needs.
type App struct {
	Config *infra.Config
	SQL    *infra.SQLRunner
	Studio *studio.Service
	GeoIP  geoip.CountryResolver
	Logger zerolog.Logger
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]any{"error": map[string]string{
		"code":    code,
		"message": message,
	}})
}

// fail translates a pipeline error into the wire taxonomy.
func (a *App) fail(w http.ResponseWriter, err error) {
	status, code := classify(err)
	a.error(w, status, code, err.Error())
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, domain.ErrUnsupportedModel):
		return http.StatusBadRequest, "unsupported_model"
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, domain.ErrInsufficientCredits):
		return http.StatusPaymentRequired, "insufficient_credits"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrInFlight):
		return http.StatusConflict, "generation_in_flight"
	case errors.Is(err, domain.ErrCanceled):
		return http.StatusConflict, "canceled"
	case errors.Is(err, domain.ErrTimeout):
		return http.StatusGatewayTimeout, "generation_timeout"
	case errors.Is(err, domain.ErrStorageFailure):
		return http.StatusBadGateway, "storage_failure"
	case errors.Is(err, domain.ErrProviderFailure):
		return http.StatusBadGateway, "provider_failure"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

// clientCountry resolves the caller's ISO country code for usage analytics.
// Lookups are best effort; an empty code is fine.
func (a *App) clientCountry(r *http.Request) string {
	if a.GeoIP == nil {
		return ""
	}
	ip := clientIP(r)
	if ip == "" {
		return ""
	}
	code, err := a.GeoIP.CountryCode(ip)
	if err != nil {
		return ""
	}
	return code
}

func clientIP(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		for _, part := range strings.Split(xf, ",") {
			ip := strings.TrimSpace(part)
			if net.ParseIP(ip) != nil {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
