package worker

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/codeaudit/pkg/models"
)

// requestIDKey is the context key for request IDs.
type requestIDKey struct{}

// actorKey is the context key for the authenticated actor.
type actorKey struct{}

// ActorHeader carries the caller's actor id. The service trusts the header;
// authentication of the header itself belongs to a fronting proxy.
const ActorHeader = "X-Actor-ID"

// SecurityHeaders middleware adds essential security headers to all
// responses.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'self'")

		next.ServeHTTP(w, r)
	})
}

// MaxBodySize middleware limits the size of incoming request bodies.
func MaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// RequestID middleware adds a unique request ID to each request. The ID is
// echoed in the response headers for tracing.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			idBytes := make([]byte, 8)
			if _, err := rand.Read(idBytes); err == nil {
				requestID = hex.EncodeToString(idBytes)
			} else {
				requestID = fmt.Sprintf("%d", time.Now().UnixNano())
			}
		}

		w.Header().Set("X-Request-ID", requestID)

		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// LogRequests middleware emits one structured line per completed request,
// tagged with the request ID so log lines correlate with the X-Request-ID
// header the client saw.
func LogRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		log.Debug().
			Str("component", "worker").
			Str("request_id", GetRequestID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request completed")
	})
}

// requireActor resolves X-Actor-ID to a registered actor and attaches it to
// the request context. An unknown or missing actor is rejected before any
// store call; everything past this middleware carries the actor explicitly.
func (s *Service) requireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actorID := r.Header.Get(ActorHeader)
		if actorID == "" {
			http.Error(w, "missing "+ActorHeader+" header", http.StatusUnauthorized)
			return
		}

		actor, err := s.actors.GetActor(r.Context(), actorID)
		if err != nil {
			http.Error(w, "unknown actor", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), actorKey{}, *actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// actorFrom retrieves the authenticated actor from the context.
func actorFrom(ctx context.Context) models.Actor {
	actor, _ := ctx.Value(actorKey{}).(models.Actor)
	return actor
}
