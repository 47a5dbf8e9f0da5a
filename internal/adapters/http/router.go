package http

import (
	"context"
	"net/http"

	"github.com/dkeye/Vision/internal/adapters/signal"
	"github.com/dkeye/Vision/internal/app/orch"
	"github.com/dkeye/Vision/internal/config"
	"github.com/dkeye/Vision/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const sessionRoomKey = "room"

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware tags every browser with a long lived token. It only
// correlates logs; member ids are issued per signaling connection.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   3600 * 24 * 7,
		HttpOnly: true,
		Secure:   cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	r.Use(sessions.Sessions("VisionSessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		rememberRoom(c)
		c.File(cfg.StaticPath + "/index.html")
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")

	api.GET("/rooms", func(c *gin.Context) {
		rooms, err := o.Registry.Rooms(c.Request.Context())
		if err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Msg("list rooms")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "store unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"rooms": rooms})
	})

	api.GET("/rooms/:id/members", func(c *gin.Context) {
		room, err := domain.ParseRoomID(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		members, err := o.Registry.Members(c.Request.Context(), room)
		if err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Msg("list members")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "store unavailable"})
			return
		}
		c.JSON(http.StatusOK, domain.Room{ID: room, Members: members})
	})

	// GET /api/session tells the page which room to join.
	api.GET("/session", func(c *gin.Context) {
		room := domain.DefaultRoom
		if v, ok := sessions.Default(c).Get(sessionRoomKey).(string); ok && v != "" {
			room = domain.RoomID(v)
		}
		c.JSON(http.StatusOK, gin.H{
			"room":         room,
			"client_token": c.GetString("client_token"),
		})
	})

	ctrl := signal.NewSignalWSController(o, cfg)
	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("client_token", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	return r
}

// rememberRoom stores ?room= in the cookie session for later page loads.
func rememberRoom(c *gin.Context) {
	raw := c.Query("room")
	if raw == "" {
		return
	}
	room, err := domain.ParseRoomID(raw)
	if err != nil {
		return
	}
	s := sessions.Default(c)
	s.Set(sessionRoomKey, string(room))
	if err := s.Save(); err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Msg("save session")
	}
}
