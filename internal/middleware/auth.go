package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/hitoshi/medsync/internal/model"
)

// NewBearerAuthMiddleware は共有シークレットによるベアラートークン認証の
// ミドルウェアを生成する。Authorization: Bearer <secret> の形式のみを受け付け、
// 比較はタイミング攻撃耐性のある定数時間比較で行う。
func NewBearerAuthMiddleware(secret string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
