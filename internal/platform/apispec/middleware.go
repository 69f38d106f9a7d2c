package apispec

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
)

// Middleware rejects requests that violate the contract before a handler
// sees them. Paths the contract does not declare pass through untouched;
// webhook, health and auth endpoints are not part of the read API.
type Middleware struct {
	Logger *slog.Logger
	router routers.Router
}

func NewMiddleware(logger *slog.Logger, doc *openapi3.T) (*Middleware, error) {
	if doc == nil {
		return nil, errors.New("openapi document is required")
	}
	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("build contract router: %w", err)
	}
	return &Middleware{Logger: logger, router: router}, nil
}

func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route, pathParams, err := m.router.FindRoute(r)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		input := &openapi3filter.RequestValidationInput{
			Request:    r,
			PathParams: pathParams,
			Route:      route,
		}
		if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
			if m.Logger != nil {
				m.Logger.Warn("request rejected by contract",
					"request_id", r.Header.Get("X-Request-Id"),
					"method", r.Method,
					"path", r.URL.Path,
					"error", err.Error(),
				)
			}
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":      "invalid_request",
				"reason":     err.Error(),
				"request_id": r.Header.Get("X-Request-Id"),
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}
