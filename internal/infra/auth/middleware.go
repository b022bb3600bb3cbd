package auth

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/keovoin/wing-cash-movement-system-sub000/internal/domain"
)

// TokenValidator — интерфейс проверки токена оператора back-office
type TokenValidator interface {
	VerifyToken(tokenStr string) (*domain.CustomClaims, error)
}

type ctxKey string

const actorKey ctxKey = "actor"

// ActorFromContext достает авторизованного актора из контекста запроса.
func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(domain.Actor)
	return actor, ok
}

// WithActor кладет актора в контекст. Экспортирован для тестов хендлеров.
func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

func NewMiddleware(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := v.VerifyToken(authHeader)
			if err != nil {
				logger.Warn("auth failure", zap.Error(err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			// Прокидываем актора в контекст
			ctx := WithActor(r.Context(), domain.Actor{
				ID:          claims.UserID,
				Role:        claims.Role,
				CanOverride: claims.CanOverride,
			})

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
