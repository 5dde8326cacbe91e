package relay

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/1ureka/roomcall/internal/util"
)

const writeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// NewRouter builds the relay HTTP handler. mode is a gin mode ("debug",
// "release" or "test"); request logging is only enabled in debug.
func NewRouter(hub *Hub, mode string) *gin.Engine {
	if mode != "" {
		gin.SetMode(mode)
	}

	r := gin.New()
	if mode == gin.DebugMode {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/api/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, hub.Rooms())
	})
	r.GET("/ws/signaling/:room/", func(c *gin.Context) {
		hub.serveWS(c.Writer, c.Request, c.Param("room"))
	})
	return r
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request, room string) {
	if room == "" {
		http.Error(w, "room required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed: %v", err)
		return
	}

	p := h.join(room)
	done := make(chan struct{})
	go h.writePump(conn, p, done)
	h.readPump(conn, p)

	h.leave(p)
	close(done)
	conn.Close()
}

// readPump forwards every text message to the rest of the room until the
// connection fails.
func (h *Hub) readPump(conn *websocket.Conn, p *participant) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		h.broadcast(p, data)
	}
}

func (h *Hub) writePump(conn *websocket.Conn, p *participant, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case data := <-p.send:
			if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				conn.Close()
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.log.With("participant", p.id).Warn("write failed: %v", err)
				conn.Close()
				return
			}
		}
	}
}

// Serve runs the relay on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		util.LogInfo("relay listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
