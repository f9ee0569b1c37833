package shared

import (
	"context"
	"net/http"
	"strings"
)

// ActorHeader carries the staff identifier of the caller.
const ActorHeader = "X-Staff-ID"

type actorContextKey struct{}

// ContextWithActor stores the acting staff identifier in context.
func ContextWithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the staff identifier, empty when anonymous.
func ActorFromContext(ctx context.Context) string {
	actor, _ := ctx.Value(actorContextKey{}).(string)
	return actor
}

// ActorMiddleware copies the ActorHeader value into the request context.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := strings.TrimSpace(r.Header.Get(ActorHeader))
		if len(actor) > 64 {
			actor = actor[:64]
		}
		if actor != "" {
			r = r.WithContext(ContextWithActor(r.Context(), actor))
		}
		next.ServeHTTP(w, r)
	})
}
