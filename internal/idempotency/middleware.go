package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	dErrors "homebank/pkg/domain-errors"
	"homebank/pkg/platform/httputil"
	"homebank/pkg/requestcontext"
)

const (
	HeaderKey      = "Idempotency-Key"
	HeaderReplayed = "Idempotent-Replayed"

	// DefaultTTL is how long a completed response is replayed.
	DefaultTTL = 24 * time.Hour

	maxKeyLen = 255
	// Bodies larger than this are refused before they are fingerprinted.
	maxBodyBytes = 1 << 20
)

// ReplayCounter is the metrics hook for replayed responses.
type ReplayCounter interface {
	IncrementIdempotentReplays()
}

type config struct {
	ttl     time.Duration
	logger  *slog.Logger
	metrics ReplayCounter
}

type Option func(*config)

func WithTTL(ttl time.Duration) Option {
	return func(c *config) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

func WithMetrics(m ReplayCounter) Option {
	return func(c *config) {
		c.metrics = m
	}
}

// Middleware makes a handler idempotent per Idempotency-Key. Keys are scoped
// by the authenticated client and the request path, so it must run after
// authentication. Requests without the header pass through untouched.
//
// The first request reserves the key and its response is stored when the
// status is below 500. A retry gets the stored response back with
// Idempotent-Replayed: true; a duplicate that arrives while the first is
// still running gets 409, and so does a retry whose body differs from the
// request that produced the stored response.
func Middleware(store Store, opts ...Option) func(http.Handler) http.Handler {
	cfg := config{ttl: DefaultTTL, logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(HeaderKey)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			requestID := requestcontext.RequestID(ctx)
			if len(key) > maxKeyLen {
				httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "Idempotency-Key must be at most 255 characters"))
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
			if err != nil {
				httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "request body could not be read"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			fingerprint := bodyFingerprint(body)

			scoped := scopeKey(requestcontext.ClientID(ctx).String(), r.Method, r.URL.Path, key)
			existing, reserved, err := store.Reserve(ctx, scoped, cfg.ttl)
			if err != nil {
				// Fail closed.
				cfg.logger.ErrorContext(ctx, "idempotency store unavailable",
					"request_id", requestID,
					"error", err,
				)
				httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "idempotency store unavailable"))
				return
			}
			if !reserved {
				if existing.Pending() {
					httputil.WriteError(w, dErrors.New(dErrors.CodeConflict, "a request with this Idempotency-Key is in progress"))
					return
				}
				if existing.Fingerprint != fingerprint {
					cfg.logger.WarnContext(ctx, "idempotency key reused with a different body",
						"request_id", requestID,
					)
					httputil.WriteError(w, dErrors.New(dErrors.CodeConflict, "Idempotency-Key was already used with a different request body"))
					return
				}
				cfg.logger.InfoContext(ctx, "replaying idempotent response",
					"request_id", requestID,
					"status", existing.Status,
				)
				if cfg.metrics != nil {
					cfg.metrics.IncrementIdempotentReplays()
				}
				replay(w, existing)
				return
			}

			var buf bytes.Buffer
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&buf)

			completed := false
			defer func() {
				if completed {
					return
				}
				// Handler failed or panicked; let the client retry.
				if err := store.Release(ctx, scoped); err != nil {
					cfg.logger.WarnContext(ctx, "failed to release idempotency key",
						"request_id", requestID,
						"error", err,
					)
				}
			}()

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if status >= http.StatusInternalServerError {
				return
			}
			rec := Record{
				Status:      status,
				ContentType: ww.Header().Get("Content-Type"),
				Body:        buf.Bytes(),
				Fingerprint: fingerprint,
			}
			if err := store.Complete(ctx, scoped, rec, cfg.ttl); err != nil {
				cfg.logger.WarnContext(ctx, "failed to store idempotent response",
					"request_id", requestID,
					"error", err,
				)
				return
			}
			completed = true
		})
	}
}

func replay(w http.ResponseWriter, rec *Record) {
	if rec.ContentType != "" {
		w.Header().Set("Content-Type", rec.ContentType)
	}
	w.Header().Set(HeaderReplayed, "true")
	w.WriteHeader(rec.Status)
	_, _ = w.Write(rec.Body)
}

func bodyFingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// scopeKey hashes the caller-supplied key together with its scope so stored
// keys have a fixed size and one client cannot replay another's response.
func scopeKey(clientID, method, path, key string) string {
	sum := sha256.Sum256([]byte(clientID + "\x00" + method + "\x00" + path + "\x00" + key))
	return hex.EncodeToString(sum[:])
}
