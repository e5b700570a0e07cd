package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/dkeye/peercall/internal/adapters/signal"
	"github.com/dkeye/peercall/internal/app"
	"github.com/dkeye/peercall/internal/config"
	"github.com/dkeye/peercall/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const defaultHistoryLimit = 50

func genClientToken() string {
	return uuid.NewString()
}

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

// SetupRouter wires the signaling endpoint and the read-only REST API.
func SetupRouter(ctx context.Context, cfg *config.Config, router *app.Router, ctl *signal.SignalWSController) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("PeercallSessions", store))
	r.Use(ClientTokenMiddleware())

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "rooms": len(router.Rooms.List())})
	})

	// GET /ws?room={room}&name={name}[&id={id}]
	r.GET("/ws", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("client", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctl.HandleSignal(ctx, c)
	})

	api := r.Group("/api")

	// Room names admit whoever knows them, so only aggregates are public
	// unless list_rooms is set.
	api.GET("/rooms", func(c *gin.Context) {
		rooms := router.Rooms.List()
		members := 0
		for _, info := range rooms {
			members += info.MemberCount
		}
		body := gin.H{"room_count": len(rooms), "member_count": members}
		if cfg.ListRooms {
			body["rooms"] = rooms
		}
		c.JSON(http.StatusOK, body)
	})

	api.GET("/rooms/:room/members", func(c *gin.Context) {
		roomID, err := domain.ParseRoomID(c.Param("room"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		members := []domain.Member{}
		if room, ok := router.Rooms.Get(roomID); ok {
			members = room.MembersSnapshot()
		}
		c.JSON(http.StatusOK, gin.H{"room": roomID, "members": members})
	})

	api.GET("/rooms/:room/messages", func(c *gin.Context) {
		roomID, err := domain.ParseRoomID(c.Param("room"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		limit := defaultHistoryLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
				return
			}
			limit = n
		}
		messages := []domain.ChatMessage{}
		if router.Chat != nil {
			history, err := router.Chat.History(c.Request.Context(), roomID, limit)
			if err != nil {
				log.Error().Err(err).Str("module", "adapters.http").Str("room", string(roomID)).Msg("chat history")
				c.JSON(http.StatusInternalServerError, gin.H{"error": "history unavailable"})
				return
			}
			messages = append(messages, history...)
		}
		c.JSON(http.StatusOK, gin.H{"room": roomID, "messages": messages})
	})

	api.GET("/ice", func(c *gin.Context) {
		roomID, err := domain.ParseRoomID(c.Query("room"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		id, err := domain.ParseMemberID(c.Query("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if joined, _, ok := router.Registry.RoomOf(id); !ok || joined != roomID {
			c.JSON(http.StatusForbidden, gin.H{"error": "not a member of room"})
			return
		}
		servers := []domain.ICEServer{}
		if router.ICE != nil {
			servers = append(servers, router.ICE.Resolve(roomID, id, time.Now())...)
		}
		c.JSON(http.StatusOK, gin.H{"iceServers": servers})
	})

	return r
}
