package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"wschat/internal/services/chat"
)

const (
	writeWait        = 10 * time.Second
	pingPeriod       = 30 * time.Second
	disconnectWait   = 5 * time.Second
	defaultReadLimit = 4096
)

type Options struct {
	ReadLimit      int64
	MessageTimeout time.Duration
	PingPeriod     time.Duration
}

type WsServer struct {
	hub     *Hub
	chatSvc chat.IChatService
	opts    Options
}

func NewWsServer(h *Hub, chatSvc chat.IChatService, opts Options) *WsServer {
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = defaultReadLimit
	}
	if opts.MessageTimeout <= 0 {
		opts.MessageTimeout = 5 * time.Second
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = pingPeriod
	}
	return &WsServer{hub: h, chatSvc: chatSvc, opts: opts}
}

// ---------------------------------------------------------------------------
//  Public: Gin entry‑point
// ---------------------------------------------------------------------------

// Handle registers the connection, then upgrades. A registry failure rejects
// the handshake with a 500 carrying the error message.
func (s *WsServer) Handle(ginCtx *gin.Context) {
	id := uuid.NewString()

	// Join the hub first so broadcasts racing the handshake wait for it.
	conn := newClientConn(id)
	s.hub.join(conn)

	if err := s.chatSvc.OnConnect(ginCtx.Request.Context(), id); err != nil {
		s.hub.leave(conn)
		conn.attach(nil)
		ginCtx.String(http.StatusInternalServerError, "Failure while attempting to connect: %s", err.Error())
		return
	}

	rawConn, err := websocket.Accept(
		ginCtx.Writer, ginCtx.Request,
		&websocket.AcceptOptions{InsecureSkipVerify: true}, // dev‑only
	)
	if err != nil {
		zap.L().Warn("ws.accept", zap.String("connection_id", id), zap.Error(err))
		s.hub.leave(conn)
		conn.attach(nil)
		s.disconnect(id)
		return
	}
	rawConn.SetReadLimit(s.opts.ReadLimit)
	conn.attach(rawConn)

	ctx, cancel := context.WithCancel(context.Background())
	go s.reader(ctx, cancel, conn)
	go s.pinger(ctx, conn)
}

// ---------------------------------------------------------------------------
//  Private helpers
// ---------------------------------------------------------------------------

// reader handles one frame at a time, which keeps a single sender's messages
// in submission order.
func (s *WsServer) reader(ctx context.Context, cancel context.CancelFunc, conn *clientConn) {
	defer func() {
		cancel()
		s.hub.leave(conn)
		_ = conn.rawConn.CloseNow()
		s.disconnect(conn.id)
	}()

	for {
		_, data, err := conn.rawConn.Read(ctx)
		if err != nil {
			if st := websocket.CloseStatus(err); st != websocket.StatusNormalClosure && st != websocket.StatusGoingAway {
				zap.L().Debug("ws.read", zap.String("connection_id", conn.id), zap.Error(err))
			}
			return // client closed or errored
		}

		msgCtx, msgCancel := context.WithTimeout(ctx, s.opts.MessageTimeout)
		s.chatSvc.OnMessage(msgCtx, conn.id, data)
		msgCancel()
	}
}

func (s *WsServer) pinger(ctx context.Context, conn *clientConn) {
	ticker := time.NewTicker(s.opts.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		pingCtx, cancel := context.WithTimeout(ctx, writeWait)
		err := conn.rawConn.Ping(pingCtx)
		cancel()
		if err != nil {
			_ = conn.rawConn.Close(websocket.StatusNormalClosure, "ping timeout")
			return
		}
	}
}

func (s *WsServer) disconnect(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), disconnectWait)
	defer cancel()
	// errors already logged in svc; the record is reaped with the node otherwise
	_ = s.chatSvc.OnDisconnect(ctx, id)
}
