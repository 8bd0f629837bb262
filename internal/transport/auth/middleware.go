package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/nvthai0611/doan-build-sub011/internal/domain"
	"github.com/nvthai0611/doan-build-sub011/internal/repository"
)

type ctxKey string

const (
	userIDKey ctxKey = "userID"
	tokenKey  ctxKey = "token"
)

// StaffAbility gates the staff-only surface: intent cancellation and the
// reconciliation queue.
const StaffAbility = "manage-payments"

// TokenMiddleware authenticates Sanctum-style bearer tokens. Websocket
// clients cannot set headers, so a token query parameter is accepted too.
func TokenMiddleware(tokenRepo *repository.PersonalAccessTokenRepository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			plain := bearerToken(r)
			if plain == "" {
				plain = r.URL.Query().Get("token")
			}
			if plain == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			pat, err := tokenRepo.FindTokenByPlainToken(r.Context(), plain)
			if err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			if pat.ExpiresAt != nil && pat.ExpiresAt.Before(time.Now()) {
				http.Error(w, "Token expired", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), pat)))
		})
	}
}

// RequireAbility rejects authenticated requests whose token lacks the
// given ability.
func RequireAbility(ability string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			pat, err := GetToken(r.Context())
			if err != nil || !pat.Can(ability) {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithUser puts an authenticated token on the context the same way
// TokenMiddleware does.
func WithUser(ctx context.Context, pat *domain.PersonalAccessToken) context.Context {
	ctx = context.WithValue(ctx, userIDKey, pat.UserID)
	return context.WithValue(ctx, tokenKey, pat)
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func GetUserID(ctx context.Context) (int64, error) {
	userID, ok := ctx.Value(userIDKey).(int64)
	if !ok {
		return 0, errors.New("userID not found in context")
	}
	return userID, nil
}

func GetToken(ctx context.Context) (*domain.PersonalAccessToken, error) {
	pat, ok := ctx.Value(tokenKey).(*domain.PersonalAccessToken)
	if !ok {
		return nil, errors.New("token not found in context")
	}
	return pat, nil
}
