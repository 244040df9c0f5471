package api

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/campusmeet/campuschat/internal/database"
)

func (s *ChatApp) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				var panicError error
				switch e := err.(type) {
				case error:
					panicError = e
				default:
					panicError = fmt.Errorf("%v", e)
				}
				s.log.Printf("panic: %v", panicError)
				errResp := NewInternalServerError(panicError)
				if s.environment != "production" {
					errResp.Message = panicError.Error()
				}
				w.Header().Set("Connection", "close")
				s.writeJson(w, errResp.StatusCode, errResp)
				return
			}
		}()

		next.ServeHTTP(w, r)
	})
}

func (s *ChatApp) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenString, err := sessionToken(r)
		if err != nil {
			errResp := NewUnauthorizedError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		userId, err := s.extractUserIdFromToken(tokenString)
		if err != nil {
			s.log.Printf("failed to extract user id from token: %v", err)
			errResp := NewUnauthorizedError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		user, err := s.db.GetAccountById(userId)
		if err != nil {
			var errResp *ApiError
			if errors.Is(err, sql.ErrNoRows) {
				// token for a deleted account
				errResp = NewUnauthorizedError()
			} else {
				errResp = NewInternalServerError(err)
			}
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		if user.Suspended {
			if user.SuspendedUntil.Valid && time.Now().After(user.SuspendedUntil.Time) {
				if err := s.db.SetAccountSuspended(user.Id, false); err != nil {
					errResp := NewInternalServerError(err)
					s.writeJson(w, errResp.StatusCode, errResp)
					return
				}
			} else {
				errResp := NewForbiddenError()
				s.writeJson(w, errResp.StatusCode, errResp)
				return
			}
		}

		ctx := WithUserId(r.Context(), user.Id)
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")

		next(w, r.WithContext(ctx))
	}
}

// accountFromContext loads the authenticated user's row. The auth
// middleware guarantees the id is present on authenticated routes.
func (s *ChatApp) accountFromContext(r *http.Request) (database.User, *ApiError) {
	userId, ok := UserId(r.Context())
	if !ok {
		return database.User{}, NewUnauthorizedError()
	}

	user, err := s.db.GetAccountById(userId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return database.User{}, NewNotFoundError()
		}
		return database.User{}, NewInternalServerError(err)
	}

	return user, nil
}
