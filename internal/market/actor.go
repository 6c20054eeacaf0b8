package market

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"Betsy/pkg/kit"
)

// ActorHeader carries the id of the user performing a mutation. It is taken
// at face value; there is no authentication layer in front of it.
const ActorHeader = "X-User-Id"

type ctxKey string

const actorKey ctxKey = "actor"

func ActorFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(actorKey).(int64)
	return id, ok
}

// RequireActor rejects requests without a positive numeric X-User-Id.
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(ActorHeader))
		if raw == "" {
			kit.WriteError(w, r, http.StatusUnauthorized, "missing "+ActorHeader, nil)
			return
		}

		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			kit.WriteError(w, r, http.StatusUnauthorized, "invalid "+ActorHeader, nil)
			return
		}

		ctx := context.WithValue(r.Context(), actorKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
