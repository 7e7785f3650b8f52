package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Pinger is anything Health can probe, such as *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Health is a health-check endpoint for load balancers and monitoring.  It
// answers "ok" when every dependency responds and 503 otherwise.
func Health(deps ...Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 500*time.Millisecond)
		defer cancel()
		for _, d := range deps {
			if err := d.PingContext(ctx); err != nil {
				return c.String(http.StatusServiceUnavailable, "unhealthy")
			}
		}
		return c.String(http.StatusOK, "ok")
	}
}

// PingFunc adapts a plain function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) PingContext(ctx context.Context) error { return f(ctx) }
