// Package identity trusts the identity headers set by the API gateway and
// turns them into a shared.Actor on the request context.
package identity

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/odyssey-erp/odyssey-procure/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

// Gateway header names.
const (
	HeaderTenantID = "X-Tenant-ID"
	HeaderUserID   = "X-User-ID"
	HeaderRole     = "X-User-Role"
	HeaderName     = "X-User-Name"
)

// Headers is the identity asserted by the gateway. The system role is never
// accepted from outside; background jobs construct it themselves.
type Headers struct {
	TenantID    string `json:"tenantId" validate:"required,max=64"`
	UserID      string `json:"userId" validate:"required,max=128"`
	Role        string `json:"role" validate:"required,oneof=requester department_head procurement_officer finance_manager director admin"`
	DisplayName string `json:"displayName" validate:"max=200"`
}

// FromRequest reads the identity headers.
func FromRequest(r *http.Request) Headers {
	return Headers{
		TenantID:    strings.TrimSpace(r.Header.Get(HeaderTenantID)),
		UserID:      strings.TrimSpace(r.Header.Get(HeaderUserID)),
		Role:        strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderRole))),
		DisplayName: strings.TrimSpace(r.Header.Get(HeaderName)),
	}
}

func (h Headers) empty() bool {
	return h.TenantID == "" && h.UserID == "" && h.Role == ""
}

// Actor converts validated headers.
func (h Headers) Actor() shared.Actor {
	return shared.Actor{TenantID: h.TenantID, UserID: h.UserID, Role: shared.Role(h.Role), DisplayName: h.DisplayName}
}

// Middleware attaches the gateway identity to the request context. Requests
// without identity headers pass through anonymously; handlers that need an
// actor answer 401. Partial or invalid identities are rejected here.
func Middleware(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			headers := FromRequest(r)
			if headers.empty() {
				next.ServeHTTP(w, r)
				return
			}
			if err := httpx.Validate(headers); err != nil {
				logger.Warn("rejected identity headers",
					slog.String("path", r.URL.Path),
					slog.String("tenant_id", headers.TenantID),
					slog.Any("error", err))
				httpx.JSON(w, http.StatusUnauthorized, httpx.ProblemDetail{
					Title:  "Unauthorized",
					Status: http.StatusUnauthorized,
					Detail: "invalid identity headers",
					Errors: shared.AsValidation(err),
				})
				return
			}
			ctx := shared.ContextWithActor(r.Context(), headers.Actor())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
