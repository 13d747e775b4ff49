package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/jangbersahaja/fishon-captain-sub003/cmd/web/auth"
	"github.com/jangbersahaja/fishon-captain-sub003/cmd/web/ctxkeys"
	authhandlers "github.com/jangbersahaja/fishon-captain-sub003/cmd/web/handlers/auth"
	"github.com/jangbersahaja/fishon-captain-sub003/cmd/web/handlers/common"

	"github.com/jangbersahaja/fishon-captain-sub003/cmd/web/handlers/api/callback_api"
	"github.com/jangbersahaja/fishon-captain-sub003/cmd/web/handlers/api/fileserver"
	"github.com/jangbersahaja/fishon-captain-sub003/cmd/web/handlers/api/video_api"

	"github.com/jangbersahaja/fishon-captain-sub003/internal/callback"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/ingress"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/objectstore"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/videos"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps are the services the web server exposes.
type Deps struct {
	Store      videos.Store
	Objects    objectstore.Store
	Ingress    *ingress.Service
	Dispatcher ingress.Dispatcher
	Receiver   *callback.Receiver
	Sessions   *auth.SessionManager
	Tokens     *auth.Tokens
	// CallbackURL is the public URL of the callback route, checked against
	// the signature subject.
	CallbackURL string
	// ServeObjects exposes GET /objects/* for stores without their own
	// public URLs.
	ServeObjects bool
	// Ping reports database health for /healthz. Optional.
	Ping func(ctx context.Context) error
}

type Webserver struct {
	*echo.Echo
	deps          Deps
	authenticator *auth.Authenticator
	fileServer    *fileserver.FileServer
}

func NewWebserver(deps Deps) (*Webserver, error) {
	if deps.Store == nil || deps.Ingress == nil || deps.Receiver == nil || deps.Dispatcher == nil {
		return nil, errors.New("web server needs a store, ingress, dispatcher and callback receiver")
	}

	e := echo.New()
	webserver := &Webserver{
		Echo:          e,
		deps:          deps,
		authenticator: &auth.Authenticator{Sessions: deps.Sessions, Tokens: deps.Tokens},
	}
	if deps.ServeObjects && deps.Objects != nil {
		webserver.fileServer = fileserver.NewFileServer(deps.Objects)
	}

	if err := webserver.setupMiddleware(); err != nil {
		return nil, err
	}

	if err := webserver.registerRoutes(); err != nil {
		return nil, err
	}

	return webserver, nil
}

func (s *Webserver) setupMiddleware() error {
	s.HideBanner = true
	s.HidePort = true
	s.HTTPErrorHandler = common.HTTPErrorHandler
	s.Use(middleware.BodyLimit("8M"))
	s.Use(middleware.Recover())
	s.Use(middleware.RequestID())
	s.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			switch c.Path() {
			case "/healthz", "/metrics":
				return true
			default:
				return false
			}
		},
		LogURI:       true,
		LogMethod:    true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  false,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"remote_ip", v.RemoteIP,
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				fields = append(fields, "error", v.Error)
			}
			slog.Info("request", fields...)
			return nil
		},
	}))

	// Resolve the caller once; handlers decide whether they need one.
	s.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := context.WithValue(c.Request().Context(), ctxkeys.RequestID, c.Response().Header().Get(echo.HeaderXRequestID))
			if id, err := s.authenticator.Identify(c.Request()); err == nil {
				c.Set(common.IdentityKey, id)
				ctx = context.WithValue(ctx, ctxkeys.Identity, id)
			}
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})

	return nil
}

func (s *Webserver) registerRoutes() error {
	apiGroup := s.Group("/api")

	apiGroup.POST("/session", authhandlers.HandleLogin(s.deps.Sessions, s.deps.Tokens))
	apiGroup.DELETE("/session", authhandlers.HandleLogout(s.deps.Sessions))

	apiGroup.POST("/videos", video_api.HandleCreate(s.deps.Ingress))
	apiGroup.GET("/videos", video_api.HandleIndex(s.deps.Store))
	apiGroup.POST("/videos/callback", callback_api.HandleReceive(s.deps.Receiver, s.deps.CallbackURL))
	apiGroup.GET("/videos/:id", video_api.HandleShow(s.deps.Store))
	apiGroup.POST("/videos/:id/requeue", video_api.HandleRequeue(s.deps.Store, s.deps.Dispatcher))

	if s.fileServer != nil {
		s.GET("/objects/*", s.fileServer.Handle)
		s.HEAD("/objects/*", s.fileServer.Handle)
	}

	s.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Health check
	s.GET("/healthz", func(c echo.Context) error {
		if s.deps.Ping != nil {
			ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
			defer cancel()
			if err := s.deps.Ping(ctx); err != nil {
				slog.Warn("health check failed", "error", err)
				return c.String(http.StatusServiceUnavailable, "database unavailable")
			}
		}
		return c.String(http.StatusOK, "ok")
	})

	return nil
}
