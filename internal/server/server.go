package server

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/shinyyama/leadmarket-backend/internal/handler"
	"github.com/shinyyama/leadmarket-backend/internal/metrics"
	appmw "github.com/shinyyama/leadmarket-backend/internal/middleware"
	"github.com/shinyyama/leadmarket-backend/internal/reqctx"
	"github.com/shinyyama/leadmarket-backend/internal/service"
	"go.uber.org/zap"
)

type Deps struct {
	Purchases     service.PurchaseService
	Exports       service.ExportService
	PaymentEvents service.PaymentEventService
	Credits       service.CreditService
	Earnings      service.EarningsService
	Notifications service.NotificationService
	Deliveries    service.DeliveryAdmin
	Auth          *appmw.AuthMiddleware
	Metrics       *metrics.Metrics
	Logger        *zap.Logger
	// OriginSuffixes lists host suffixes allowed by CORS besides loopback.
	OriginSuffixes []string
}

type Server struct {
	e *echo.Echo
}

func New(d Deps, sha, buildTime string) *Server {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(appmw.RequestID)
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:      true,
		LogStatus:   true,
		LogMethod:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("rid", reqctx.RID(c.Request().Context())),
			}
			if v.Error != nil {
				log.Error("request", append(fields, zap.Error(v.Error))...)
				return nil
			}
			log.Info("request", fields...)
			return nil
		},
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type", "Authorization", "Idempotency-Key", appmw.HeaderRequestID},
		ExposeHeaders:    []string{appmw.HeaderRequestID},
		AllowCredentials: true,
		AllowOriginFunc:  originAllower(d.OriginSuffixes),
	}))

	purchaseHandler := handler.NewPurchaseHandler(d.Purchases, d.Exports, log)
	webhookHandler := handler.NewWebhookHandler(d.PaymentEvents, log)
	creditHandler := handler.NewCreditHandler(d.Credits, log)
	earningsHandler := handler.NewEarningsHandler(d.Earnings, log)
	notificationHandler := handler.NewNotificationHandler(d.Notifications, log)
	adminHandler := handler.NewAdminHandler(d.Deliveries, log)

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"ok":         "true",
			"git_sha":    sha,
			"build_time": buildTime,
		})
	})
	if d.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(d.Metrics.Handler()))
	}

	api := e.Group("/api")
	// signed by the processor, not by a user token
	api.POST("/webhooks/payments", webhookHandler.Payments)

	authed := api.Group("", d.Auth.RequireAuth)
	authed.POST("/purchases", purchaseHandler.Create)
	authed.GET("/purchases", purchaseHandler.List)
	authed.GET("/purchases/:id", purchaseHandler.Get)
	authed.GET("/purchases/:id/download", purchaseHandler.Download)
	authed.GET("/credits", creditHandler.Balance)
	authed.GET("/partners/me/earnings", earningsHandler.Mine)
	authed.GET("/notifications", notificationHandler.List)
	authed.POST("/notifications/read", notificationHandler.MarkAllRead)

	admin := api.Group("/admin", d.Auth.RequireAuth, d.Auth.RequireAdmin)
	admin.POST("/credits/grant", creditHandler.Grant)
	admin.GET("/notifications/dead", adminHandler.DeadDeliveries)
	admin.POST("/notifications/:id/retry", adminHandler.RetryDelivery)

	return &Server{e: e}
}

func (s *Server) Start(addr string) error {
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

// originAllower accepts loopback origins on any port and http(s) origins
// whose host ends in one of suffixes.
func originAllower(suffixes []string) func(string) (bool, error) {
	return func(origin string) (bool, error) {
		u, err := url.Parse(origin)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return false, nil
		}
		host := strings.ToLower(u.Hostname())
		if host == "localhost" || host == "127.0.0.1" {
			return true, nil
		}
		for _, sfx := range suffixes {
			if sfx != "" && strings.HasSuffix(host, strings.ToLower(sfx)) {
				return true, nil
			}
		}
		return false, nil
	}
}

// ServeHTTP lets tests drive the router without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.e.ServeHTTP(w, r)
}
