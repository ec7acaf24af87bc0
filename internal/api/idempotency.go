package api

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/IlyasAtabaev731/movement-ledger/internal/auth"
	"github.com/IlyasAtabaev731/movement-ledger/internal/domain/models"
	"github.com/google/uuid"
)

const (
	idempotencyTTL = 24 * time.Hour
	// reservationTTL bounds how long a crashed request can block its key.
	reservationTTL = time.Minute
)

type IdempotencyStore interface {
	Get(ctx context.Context, key string) (*models.CachedResponse, error)
	Save(ctx context.Context, key string, response models.CachedResponse, ttl time.Duration) error
	// Reserve claims key for owner unless another owner holds it.
	Reserve(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	// Release drops the claim if owner still holds it.
	Release(ctx context.Context, key, owner string) error
}

// IdentifyFunc resolves a bearer credential to the caller it belongs to.
type IdentifyFunc func(ctx context.Context, token string) (models.Identity, error)

type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
	mutated    bool
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *responseRecorder) markMutated() {
	r.mutated = true
}

// cacheable keeps every reply below 500, and failures after which the balance may
// already have changed. Replaying those stops a retry from applying the movement twice.
func (r *responseRecorder) cacheable() bool {
	return r.statusCode < http.StatusInternalServerError || r.mutated
}

type mutationMarker interface {
	markMutated()
}

// markMutated flags the response as following a possible balance change.
func markMutated(w http.ResponseWriter) {
	if m, ok := w.(mutationMarker); ok {
		m.markMutated()
	}
}

// Idempotency replays the stored response for a repeated Idempotency-Key. Keys are scoped
// to the verified user, so a refreshed credential still hits the same entry. While the
// first request with a key is in flight, repeats get 409. Requests whose credential does
// not verify, and all requests while the store is unreachable, pass through uncached.
func Idempotency(store IdempotencyStore, identify IdentifyFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()

			token, _ := auth.BearerToken(r)
			identity, err := identify(ctx, token)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			key = identity.UserID + ":" + key
			log := logger.With(slog.String("user_id", identity.UserID))

			owner := uuid.NewString()
			reserved, err := store.Reserve(ctx, key, owner, reservationTTL)
			if err != nil {
				log.Error("Failed to reserve idempotency key", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			if !reserved {
				cached, err := store.Get(ctx, key)
				if err != nil {
					log.Error("Failed to read idempotency key", "error", err)
				}
				if cached != nil {
					replay(w, cached, log)
					return
				}
				log.Info("Idempotency key in use")
				writeError(w, http.StatusConflict, "a request with this Idempotency-Key is still in progress")
				return
			}
			defer func() {
				if err := store.Release(context.WithoutCancel(ctx), key, owner); err != nil {
					log.Error("Failed to release idempotency key", "error", err)
				}
			}()

			cached, err := store.Get(ctx, key)
			if err != nil {
				log.Error("Failed to read idempotency key", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if cached != nil {
				replay(w, cached, log)
				return
			}

			recorder := &responseRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
				body:           &bytes.Buffer{},
			}

			next.ServeHTTP(recorder, r)

			if recorder.cacheable() {
				err := store.Save(context.WithoutCancel(ctx), key, models.CachedResponse{
					StatusCode: recorder.statusCode,
					Body:       recorder.body.Bytes(),
				}, idempotencyTTL)
				if err != nil {
					log.Error("Failed to save idempotency key", "error", err)
				}
			}
		})
	}
}

func replay(w http.ResponseWriter, cached *models.CachedResponse, log *slog.Logger) {
	log.Info("Idempotency cache hit")
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Idempotency-Hit", "true")
	w.WriteHeader(cached.StatusCode)
	if _, err := w.Write(cached.Body); err != nil {
		log.Error("Failed to write cached response", "error", err)
	}
}
