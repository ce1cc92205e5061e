package middleware

import (
	"net/http"

	"github.com/forgelight/imageforge/internal/api/shared"
	"github.com/google/uuid"
)

// OwnerIDHeader carries the caller's identity. Authentication happens at
// the deployment's edge gateway; the service trusts this header and only
// requires it to be a well-formed UUID.
const OwnerIDHeader = "X-Owner-ID"

// OwnerMiddleware extracts the owner ID from the request header and stores
// it in the context for handlers. Requests without a valid owner ID are
// rejected.
func OwnerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(OwnerIDHeader)
		if raw == "" {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Missing owner ID")
			return
		}

		ownerID, err := uuid.Parse(raw)
		if err != nil || ownerID == uuid.Nil {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Invalid owner ID")
			return
		}

		ctx := shared.WithOwnerID(r.Context(), ownerID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
