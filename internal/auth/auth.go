package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vnmchuo/llm-cost-tracker/internal/telemetry"
)

var ErrProjectNotFound = errors.New("project not found")

// Project owns an API key and every request ingested with it.
type Project struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	APIKeyHash string    `json:"api_key_hash"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

// MarshalBinary implements encoding.BinaryMarshaler for Redis
func (p *Project) MarshalBinary() ([]byte, error) {
	return json.Marshal(p)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for Redis
func (p *Project) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, p)
}

type Store interface {
	GetByKeyHash(ctx context.Context, keyHash string) (*Project, error)
	Create(ctx context.Context, project *Project) error
	// Deactivate disables the project and returns the hash of its API key.
	Deactivate(ctx context.Context, projectID string) (string, error)
}

type Middleware func(next http.Handler) http.Handler

type contextKey string

const projectIDKey contextKey = "project_id"

// HashKey returns the hex sha256 digest under which API keys are stored.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// BearerKey extracts the API key from an Authorization header value.
func BearerKey(header string) (string, bool) {
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	key := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return key, key != ""
}

// NewMiddleware resolves the bearer key to a project before the request
// body is read. Requests without a recognised, active key stop here.
func NewMiddleware(lookup *Lookup) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			key, ok := BearerKey(r.Header.Get("Authorization"))
			if !ok {
				writeError(w, http.StatusUnauthorized, "Invalid API key")
				return
			}

			project, err := lookup.Resolve(ctx, key)
			if err != nil {
				if errors.Is(err, ErrProjectNotFound) {
					writeError(w, http.StatusUnauthorized, "Invalid API key")
					return
				}
				telemetry.FromContext(ctx).Error("auth: project lookup failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "Internal server error")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithProjectID(ctx, project.ID)))
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func GetProjectID(ctx context.Context) string {
	if id, ok := ctx.Value(projectIDKey).(string); ok {
		return id
	}
	return ""
}

func WithProjectID(ctx context.Context, projectID string) context.Context {
	return context.WithValue(ctx, projectIDKey, projectID)
}
