package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/avanishpal143/meetify/internal/coordinator"
	"github.com/avanishpal143/meetify/internal/gateway"
)

// Configure the websocket upgrader
var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024, // 64 KB
	WriteBufferSize: 64 * 1024, // 64 KB

	// Browser clients are served from other origins during development.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NewRouter wires the HTTP API and the websocket endpoint.
func NewRouter(hub *gateway.Hub, coord *coordinator.Coordinator, log *slog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(requestLogger(log))
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "Coordinator is healthy.")
	})
	r.GET("/api/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": coord.Rooms()})
	})
	r.GET("/api/rooms/:id", func(c *gin.Context) {
		snap, err := coord.Snapshot(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"room": snap,
			"link": coord.RoomLink(snap.RoomID),
		})
	})
	r.GET("/ws", ServeWs(hub, log))

	return r
}

// ServeWs upgrades the connection and hands it to the hub.
func ServeWs(hub *gateway.Hub, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn("Failed to upgrade connection", "error", err)
			return
		}

		client := gateway.NewClient(hub, conn)
		if !hub.Add(client) {
			conn.Close()
			return
		}

		go client.WritePump()
		go client.ReadPump()
	}
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"ip", c.ClientIP(),
			"duration", time.Since(start))
	}
}
