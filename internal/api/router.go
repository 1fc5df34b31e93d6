package api

import (
	"strings"
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	echoSwagger "github.com/swaggo/echo-swagger"

	"github.com/styxchat/chat-service/internal/api/handler"
	"github.com/styxchat/chat-service/internal/api/middleware"
	"github.com/styxchat/chat-service/internal/core/domain"
	"github.com/styxchat/chat-service/internal/core/ports"
	_ "github.com/styxchat/chat-service/internal/docs"
)

// Deps is everything the HTTP surface needs.
type Deps struct {
	Auth         ports.AuthService
	TokenTTL     time.Duration
	Users        ports.UserService
	Rooms        ports.RoomService
	Chat         ports.ChatService
	Completer    ports.Completer
	DefaultModel string
	Speech       ports.SpeechSynthesizer
	Voices       handler.VoiceCatalog
	Limiter      ports.RateLimiter
	Realtime     handler.SessionServer

	// Ready gates /health/ready; Informational checks are only reported.
	Ready         map[string]handler.Check
	Informational map[string]handler.Check

	AllowedOrigins []string

	// Registerer and Gatherer default to the global Prometheus registry.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer

	Log zerolog.Logger
}

// NewRouter builds and returns the Echo instance with all routes registered.
func NewRouter(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()
	e.HTTPErrorHandler = NewHTTPErrorHandler(d.Log)

	// --- Global middleware ---
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestID())
	e.Use(requestLogger(d.Log))
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins:     d.AllowedOrigins,
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		AllowCredentials: !allowsAny(d.AllowedOrigins),
	}))
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "chat",
		Registerer: d.Registerer,
		Skipper:    skipObservability,
	}))

	// --- Dependencies ---
	authHandler := handler.NewAuthHandler(d.Auth, d.Users, d.TokenTTL)
	roomHandler := handler.NewRoomHandler(d.Rooms, d.Chat)
	userHandler := handler.NewUserHandler(d.Users)
	aiHandler := handler.NewAIHandler(d.Completer, d.DefaultModel)
	ttsHandler := handler.NewTTSHandler(d.Speech, d.Voices, d.Rooms)
	wsHandler := handler.NewWSHandler(d.Realtime)

	authMiddleware := middleware.Auth(d.Auth)
	apiLimit := middleware.RateLimit(d.Limiter, ports.ChannelAPI)
	adminOnly := middleware.RBAC(domain.RoleAdmin)

	// --- Auth routes ---
	e.POST("/auth/login", authHandler.Login, middleware.RateLimit(d.Limiter, ports.ChannelAuth))
	e.GET("/auth/me", authHandler.Me, authMiddleware, apiLimit)

	// --- Rooms ---
	rooms := e.Group("/rooms", authMiddleware, apiLimit)
	rooms.GET("", roomHandler.List)
	rooms.POST("", roomHandler.Create, middleware.Can(domain.ActionCreateRoom))
	rooms.GET("/:room_id", roomHandler.Get)
	rooms.PUT("/:room_id", roomHandler.Update)
	rooms.DELETE("/:room_id", roomHandler.Delete)
	rooms.POST("/:room_id/assign-users", roomHandler.AssignUsers)
	rooms.GET("/:room_id/access-check", roomHandler.AccessCheck)
	rooms.GET("/:room_id/messages", roomHandler.Messages)
	rooms.DELETE("/:room_id/messages", roomHandler.ClearMessages, adminOnly)

	// --- Users ---
	e.GET("/users", userHandler.List, authMiddleware, apiLimit, middleware.Can(domain.ActionListUsers))
	admin := e.Group("/admin", authMiddleware, apiLimit, adminOnly)
	admin.POST("/users", userHandler.Create)
	admin.DELETE("/users/:user_id", userHandler.Disable)

	// --- Assistant and speech ---
	e.GET("/models", aiHandler.Models, authMiddleware, apiLimit, middleware.Can(domain.ActionListModels))
	speech := e.Group("/tts", authMiddleware, apiLimit)
	speech.POST("", ttsHandler.Speak)
	speech.GET("/voices", ttsHandler.Voices)
	speech.POST("/:room_id", ttsHandler.SpeakRoom)

	// --- Realtime (authenticated in-band after the upgrade) ---
	e.GET("/ws", wsHandler.Connect)
	e.GET("/ws/:room_id", wsHandler.Connect)

	// --- Health probes (no auth required) ---
	healthHandler := handler.NewHealthHandler()
	healthDepsHandler := handler.NewHealthDependenciesHandler(d.Ready, d.Informational)

	e.GET("/health", healthHandler.Liveness)            // liveness  - is the process alive?
	e.GET("/health/ready", healthDepsHandler.Readiness) // readiness - are dependencies up?

	// --- Operations ---
	e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{Gatherer: d.Gatherer}))
	e.GET("/swagger/*", echoSwagger.WrapHandler)

	return e
}

// requestLogger writes one zerolog line per request.
func requestLogger(log zerolog.Logger) echo.MiddlewareFunc {
	log = log.With().Str("component", "http").Logger()
	return echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		Skipper:      skipObservability,
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogRemoteIP:  true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			ev := log.Info()
			if v.Status >= 500 {
				ev = log.Error().Err(v.Error)
			} else if v.Status >= 400 {
				ev = log.Warn()
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Str("remote_ip", v.RemoteIP).
				Msg("request")
			return nil
		},
	})
}

// skipObservability keeps probes, scrapes and websocket upgrades out of the
// request log and HTTP metrics.
func skipObservability(c echo.Context) bool {
	p := c.Request().URL.Path
	return p == "/metrics" || strings.HasPrefix(p, "/health") || strings.HasPrefix(p, "/ws")
}

func allowsAny(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
