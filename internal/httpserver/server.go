// Package httpserver provides the echo HTTP scaffolding shared by the
// external interface adapter: middleware stack, health check, graceful
// shutdown. Grounded on http/server.go's NewEchoServer/StartServer/
// GracefulShutdown/CustomHTTPErrorHandler.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"kvstore.dev/kvstore/internal/apperr"
	"kvstore.dev/kvstore/internal/logging"
)

// Config configures the echo instance.
type Config struct {
	BodyLimit       string
	RateLimit       float64 // requests/sec per IP; 0 disables
	ShutdownTimeout time.Duration
}

// DefaultConfig returns sane defaults.
func DefaultConfig() Config {
	return Config{
		BodyLimit:       "10MB",
		RateLimit:       50,
		ShutdownTimeout: 10 * time.Second,
	}
}

// New builds an echo.Echo with the standard middleware stack: request ID,
// recover, CORS, body-size limit, and a per-IP rate limiter.
func New(cfg Config, log *logging.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	if cfg.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodyLimit))
	}
	if cfg.RateLimit > 0 {
		e.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
			Store: middleware.NewRateLimiterMemoryStore(rate.Limit(cfg.RateLimit)),
		}))
	}
	e.Use(requestLogMiddleware(log))

	e.HTTPErrorHandler = ErrorHandler(log)
	e.GET("/healthz", HealthCheckHandler)

	return e
}

func requestLogMiddleware(log *logging.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			log.With(map[string]interface{}{
				"method":      c.Request().Method,
				"path":        c.Path(),
				"status":      c.Response().Status,
				"duration_ms": time.Since(start).Milliseconds(),
				"request_id":  c.Response().Header().Get(echo.HeaderXRequestID),
			}).Info("request")
			return err
		}
	}
}

// HealthCheckHandler reports liveness.
func HealthCheckHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// errorBody is the JSON error envelope documented in the error handling
// design: status/error/message/path/timestamp plus optional field errors.
type errorBody struct {
	Status     int               `json:"status"`
	Error      string            `json:"error"`
	Message    string            `json:"message"`
	Path       string            `json:"path"`
	Timestamp  time.Time         `json:"timestamp"`
	FieldErrors map[string]string `json:"fieldErrors,omitempty"`
}

// ErrorHandler maps apperr.Error (and anything else) to the JSON envelope.
// Only apperr.KindFatal and unrecognized errors are surfaced as an opaque
// 500 without detail.
func ErrorHandler(log *logging.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var status int
		var kind string
		var message string
		var fieldErrors map[string]string

		if ae, ok := apperr.As(err); ok {
			status = ae.HTTPStatus()
			kind = string(ae.Kind)
			fieldErrors = ae.FieldErrors
			if ae.Kind == apperr.KindFatal {
				message = "internal error"
				log.WithError(err).Error("fatal error handling request")
			} else {
				message = ae.Message
			}
		} else if he, ok := err.(*echo.HTTPError); ok {
			status = he.Code
			kind = "http"
			message = http.StatusText(he.Code)
			log.WithError(err).Warn("unhandled http error")
		} else {
			status = http.StatusInternalServerError
			kind = string(apperr.KindFatal)
			message = "internal error"
			log.WithError(err).Error("unhandled error")
		}

		_ = c.JSON(status, errorBody{
			Status:      status,
			Error:       kind,
			Message:     message,
			Path:        c.Request().URL.Path,
			Timestamp:   time.Now(),
			FieldErrors: fieldErrors,
		})
	}
}

// Start serves e until ctx is cancelled, then shuts down gracefully within
// cfg.ShutdownTimeout.
func Start(ctx context.Context, e *echo.Echo, addr string, cfg Config, log *logging.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", addr)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	log.Info("shutting down http server")
	return e.Shutdown(shutdownCtx)
}
