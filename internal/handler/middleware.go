package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
)

// Logger returns an access-log middleware writing one structured line per
// request.
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", chimiddleware.GetReqID(r.Context()),
				"remote", r.RemoteAddr,
			)
		})
	}
}

// CORS allows browser dashboards on other origins to call the API.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// OperatorRole is the role claim required on operator endpoints.
const OperatorRole = "operator"

var errMissingBearer = errors.New("missing bearer token")

// OperatorClaims is the JWT payload accepted on operator endpoints.
type OperatorClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// OperatorAuth verifies HS256 bearer tokens. A zero secret disables the
// check, which is only meant for local development.
type OperatorAuth struct {
	secret []byte
	logger *slog.Logger
}

// NewOperatorAuth constructs an OperatorAuth.
func NewOperatorAuth(secret string, logger *slog.Logger) *OperatorAuth {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &OperatorAuth{secret: []byte(secret), logger: logger}
}

// Enabled reports whether tokens are checked.
func (a *OperatorAuth) Enabled() bool {
	return len(a.secret) > 0
}

// Require rejects requests without a valid operator token.
func (a *OperatorAuth) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		claims, err := a.verify(r.Header.Get("Authorization"))
		if err != nil {
			a.logger.Info("operator auth rejected", "path", r.URL.Path, "error", err)
			writeError(w, http.StatusUnauthorized, "operator token required")
			return
		}
		if claims.Role != OperatorRole {
			writeError(w, http.StatusForbidden, "operator role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *OperatorAuth) verify(header string) (*OperatorClaims, error) {
	raw, ok := strings.CutPrefix(strings.TrimSpace(header), "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, errMissingBearer
	}
	var claims OperatorClaims
	_, err := jwt.ParseWithClaims(strings.TrimSpace(raw), &claims, func(token *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	return &claims, nil
}

// SignOperatorToken issues an operator token valid for ttl.
func SignOperatorToken(secret, subject string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("operator secret is not configured")
	}
	now := time.Now()
	claims := OperatorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: OperatorRole,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
