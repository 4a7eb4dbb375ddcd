package http

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/nexbid/relay-server/internal/auth"
	"github.com/nexbid/relay-server/internal/core"
	"github.com/nexbid/relay-server/internal/proto"
	"github.com/nexbid/relay-server/internal/utils"
)

// WSHandler upgrades HTTP connections and bridges them to core connections.
// The bearer credential arrives as a query parameter and is verified before
// the upgrade; a bad credential never reaches the hub.
type WSHandler struct {
	hub  *core.Hub
	auth *auth.Service
	log  *zerolog.Logger
}

// NewWSHandler builds the WebSocket endpoint handler.
func NewWSHandler(hub *core.Hub, authService *auth.Service, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{hub: hub, auth: authService, log: logger}
}

// Handle serves GET /ws?user=<id>&token=<jwt>. A missing token admits an
// anonymous connection; an invalid one is rejected with 401.
func (h *WSHandler) Handle(c *gin.Context) {
	var identity *core.Identity
	if token := c.Query("token"); token != "" {
		id, err := h.auth.IdentityFromToken(token)
		if err != nil {
			h.log.Debug().Err(err).Msg("ws credential rejected")
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid credential"})
			return
		}
		identity = id
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	client := core.NewConn(utils.NewConnID(), &wsTransport{conn: conn, cancel: cancel})
	h.hub.Register(client)
	defer h.hub.Unregister(client)

	if identity != nil {
		h.hub.Authenticate(client, *identity)
	}

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()

	err = <-errCh
	cancel() // stop the other loop
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != 0 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("conn_id", client.ID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

// readLoop decodes inbound frames and hands them to the hub. A frame that
// fails to decode costs the sender an error envelope, never the connection.
func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		env, err := proto.Decode(data)
		if err != nil {
			h.log.Warn().Err(err).Str("conn_id", client.ID).Msg("malformed inbound frame")
			client.Enqueue(proto.ErrorEnvelope(core.ErrCodeParse, "malformed envelope"))
			continue
		}

		// Any readable traffic proves the peer is alive.
		client.MarkAlive()
		h.hub.HandleEnvelope(client, env)
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Conn) error {
	for {
		select {
		case env := <-client.Out():
			if err := wsjson.Write(ctx, conn, env); err != nil {
				h.log.Error().Err(err).Str("conn_id", client.ID).Str("type", env.Type).Msg("write ws envelope")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// wsTransport adapts a websocket connection to the core.Transport the hub
// and the liveness monitor operate on.
type wsTransport struct {
	conn   *websocket.Conn
	cancel context.CancelFunc
}

func (t *wsTransport) Ping(ctx context.Context) error {
	return t.conn.Ping(ctx)
}

func (t *wsTransport) Terminate(reason string) {
	t.conn.Close(websocket.StatusPolicyViolation, reason)
	t.cancel()
}
