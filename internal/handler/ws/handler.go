package ws

import (
	"net/http"
	"time"

	drepo "CoinPull/internal/domain/repository"
	"CoinPull/internal/usecase"
	applogger "CoinPull/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// Config holds websocket endpoint settings.
type Config struct {
	Path         string
	SendBuffer   int
	WriteTimeout time.Duration
	PingInterval time.Duration
	Key          string
	MaxAge       time.Duration
}

// Handler upgrades price subscribers and registers them with the fanout.
type Handler struct {
	cfg      Config
	fanout   *usecase.Fanout
	store    drepo.SnapshotStore
	upgrader websocket.Upgrader
	log      *applogger.Logger
}

func NewHandler(cfg Config, fanout *usecase.Fanout, store drepo.SnapshotStore, l *applogger.Logger) *Handler {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	return &Handler{
		cfg:    cfg,
		fanout: fanout,
		store:  store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
			// Public read-only feed.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: l,
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET(h.cfg.Path, h.Serve)
}

// Serve handles one subscriber for the lifetime of its connection. The
// subscriber first receives the latest cached snapshot if it is recent enough
// and no broadcast has reached it in the meantime.
func (h *Handler) Serve(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.log.Debug("ws upgrade failed", applogger.Error(err))
		return nil
	}

	client := newClient(conn, h.cfg.SendBuffer, h.cfg.WriteTimeout, h.cfg.PingInterval, h.log)
	h.fanout.Register(client)
	defer h.fanout.Unregister(client.ID())

	snap, err := h.store.GetAged(c.Request().Context(), h.cfg.Key, h.cfg.MaxAge)
	if err != nil {
		h.log.Warn("ws initial snapshot read failed", applogger.Error(err))
	}
	if snap != nil {
		if msg, err := h.fanout.Encode(snap, false); err == nil {
			if sent, err := client.sendInitial(msg); !sent {
				h.log.Debug("ws initial snapshot superseded by broadcast")
			} else if err != nil {
				h.log.Debug("ws initial snapshot not queued", applogger.Error(err))
			}
		}
	}

	go client.writePump()
	client.readPump()
	return nil
}
