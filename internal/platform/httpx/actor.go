package httpx

import (
	"net/http"

	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

// RequireActor returns the authenticated actor or writes a 401 problem.
func RequireActor(w http.ResponseWriter, r *http.Request) (shared.Actor, bool) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok || actor.TenantID == "" || actor.UserID == "" {
		Problem(w, http.StatusUnauthorized, "Unauthorized", "missing identity")
		return shared.Actor{}, false
	}
	return actor, true
}
