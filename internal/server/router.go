package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mobilemkch/mkchd/internal/fetch"
	"github.com/mobilemkch/mkchd/internal/settings"
)

// Authenticator 执行上游会话登录，由 imageboard.Client 实现。
type Authenticator interface {
	LoginWithPasscode(ctx context.Context, passcode string) error
	LoginWithKey(ctx context.Context, key string) error
}

// AppOptions controls how the Fiber application should behave on a specific port.
type AppOptions struct {
	Logger       *logrus.Logger
	Orchestrator *fetch.Orchestrator
	Auth         Authenticator
	Settings     *settings.Manager
	// BaseURL 用于把版块横幅等相对地址补全为绝对地址。
	BaseURL    string
	ListenPort int
}

const contextKeyRequestID = "_mkchd_request_id"

// HeaderCacheSource 标记响应数据来自缓存、网络还是过期兜底。
const HeaderCacheSource = "X-Mkch-Cache"

// NewApp builds a Fiber application with request-id middleware, JSON error
// rendering and the /api routes.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Orchestrator == nil {
		return nil, errors.New("orchestrator is required")
	}
	if opts.Settings == nil {
		return nil, errors.New("settings manager is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		ErrorHandler:  errorHandler(opts.Logger),
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware())

	registerAPIRoutes(app, &api{
		logger:   opts.Logger,
		orch:     opts.Orchestrator,
		auth:     opts.Auth,
		settings: opts.Settings,
		baseURL:  opts.BaseURL,
	})

	return app, nil
}

// requestContextMiddleware 为每个请求生成请求 ID。
func requestContextMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// errorHandler 把未处理的错误（包括路由 404）统一渲染为 JSON。
func errorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		code := "internal_error"
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
			code = "http_error"
			if status == fiber.StatusNotFound {
				code = "not_found"
			}
		}
		if status >= fiber.StatusInternalServerError {
			logger.WithError(err).WithFields(logrus.Fields{
				"action":     "request",
				"request_id": RequestID(c),
				"path":       c.Path(),
			}).Error("unhandled_error")
		}
		return c.Status(status).JSON(fiber.Map{
			"error":   code,
			"message": err.Error(),
		})
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}
