package middleware

import (
	"errors"
	"time"

	"storefront/internal/metrics"

	"github.com/labstack/echo/v4"
)

// ルートのテンプレート単位で件数とレイテンシを記録する
func Metrics(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			var he *echo.HTTPError
			if err != nil && errors.As(err, &he) {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.ObserveRequest(route, status, time.Since(start))
			return err
		}
	}
}
