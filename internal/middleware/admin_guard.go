package middleware

import (
	"net/http"

	"storefront/internal/repository"
	"storefront/internal/usecase"

	"github.com/labstack/echo/v4"
)

// AuthJWTの後に置く。毎回DBで権限を確認する。
func AdminGuard(userRepo repository.UserRepository) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID, ok := c.Get(CtxUserIDKey).(int64)
			if !ok || userID <= 0 {
				return deny(c, http.StatusInternalServerError, usecase.CodeInternal, "internal error")
			}

			user, err := userRepo.FindByID(c.Request().Context(), userID)
			if err != nil {
				c.Logger().Errorf("admin guard lookup failed: %v", err)
				return deny(c, http.StatusInternalServerError, usecase.CodeInternal, "internal error")
			}
			if user == nil || !user.Role.IsAdmin() {
				return deny(c, http.StatusForbidden, usecase.CodeForbidden, "admin only")
			}

			c.Set(CtxUserRoleKey, user.Role)
			return next(c)
		}
	}
}
