package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/htbacgiang/ecobacgiang/internal/checkout"
)

type ctxKey int

const (
	identityKey ctxKey = iota
	requestIDKey
)

const DeviceHeader = "X-Device-ID"

// RequestIDMiddleware adds a unique request ID to each request
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Authenticator resolves the caller's identity. A bearer token, when
// present, must be a valid HMAC-signed JWT whose sub is the user id; without
// one the request is a guest identified by X-Device-ID.
type Authenticator struct {
	secret []byte
	issuer string
}

func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer}
}

func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := checkout.Identity{DeviceID: strings.TrimSpace(r.Header.Get(DeviceHeader))}

		if auth := r.Header.Get("Authorization"); auth != "" {
			if !strings.HasPrefix(auth, "Bearer ") {
				unauth(w, "invalid_request", "malformed authorization header")
				return
			}
			sub, err := a.subject(strings.TrimPrefix(auth, "Bearer "))
			if err != nil {
				unauth(w, "invalid_token", "invalid jwt")
				return
			}
			id.UserID = sub
		}

		ctx := context.WithValue(r.Context(), identityKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) subject(raw string) (string, error) {
	opts := []jwt.ParserOption{jwt.WithLeeway(30 * time.Second)} // small clock skew
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.secret, nil
	}, opts...)
	if err != nil {
		return "", err
	}
	sub, err := token.Claims.GetSubject()
	if err != nil {
		return "", err
	}
	if sub == "" {
		return "", jwt.ErrTokenInvalidClaims
	}
	return sub, nil
}

func unauth(w http.ResponseWriter, code, desc string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="`+code+`", error_description="`+desc+`"`)
	respondError(w, http.StatusUnauthorized, code, desc)
}

func identityFromContext(ctx context.Context) checkout.Identity {
	id, _ := ctx.Value(identityKey).(checkout.Identity)
	return id
}

func getRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		return requestID
	}
	return ""
}
