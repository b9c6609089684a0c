package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/homecontrol/homecontrol-core/internal/auth"
	"github.com/homecontrol/homecontrol-core/internal/device"
	"github.com/homecontrol/homecontrol-core/internal/infrastructure/config"
)

// wsSendBufferSize is the per-connection outbound frame buffer size.
const wsSendBufferSize = 256

// Errors returned by wsConn.Send.
var (
	errConnClosed     = errors.New("api: connection closed")
	errSendBufferFull = errors.New("api: send buffer full")
)

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// wsConn is one live WebSocket attachment to a device session. It
// implements session.Conn: broadcasts queue into send and the writePump
// drains them, so a slow peer only ever costs itself frames.
type wsConn struct {
	conn      *websocket.Conn
	send      chan []byte
	principal auth.Principal
	remote    string
	closeOnce sync.Once
}

func (c *wsConn) Send(data []byte) (err error) {
	defer func() {
		if recover() != nil {
			// Send channel closed under us during disconnect.
			err = errConnClosed
		}
	}()

	select {
	case c.send <- data:
		return nil
	default:
		return errSendBufferFull
	}
}

func (c *wsConn) Principal() auth.Principal { return c.principal }
func (c *wsConn) RemoteAddr() string        { return c.remote }

// closeSend closes the outbound channel exactly once.
func (c *wsConn) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

// handleDeviceSocket authenticates and upgrades a session connection.
//
// Credentials are validated BEFORE the upgrade so rejects are plain HTTP
// status codes, not post-upgrade close frames. Devices present their
// shared secret (?api_key= or Authorization bearer), users their JWT
// (?token=); the validator enforces scheme selection.
func (s *Server) handleDeviceSocket(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")

	creds := auth.Credentials{
		APIKey: r.URL.Query().Get("api_key"),
		Token:  r.URL.Query().Get("token"),
	}
	if creds.APIKey == "" && creds.Token == "" {
		// Devices may carry the shared secret as a bearer header instead.
		creds.APIKey = bearerToken(r)
	}

	p, err := s.validator.Validate(r.Context(), creds)
	if err != nil {
		writeUnauthorized(w, "invalid connection credentials")
		return
	}

	// A device key only opens the session it belongs to.
	if p.IsDevice() && p.DeviceID != deviceID {
		writeForbidden(w, "api key does not match device")
		return
	}

	d, err := s.store.GetDevice(r.Context(), deviceID)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to load device")
		return
	}

	if p.Kind == auth.KindUser && !canViewDevice(p, d) {
		writeNotFound(w, "device not found")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "device_id", deviceID, "error", err)
		return
	}

	client := &wsConn{
		conn:      conn,
		send:      make(chan []byte, wsSendBufferSize),
		principal: p,
		remote:    conn.RemoteAddr().String(),
	}

	s.sessions.Register(deviceID, client)

	// Connecting is itself proof of life for the hardware.
	if p.IsDevice() {
		ip := conn.RemoteAddr().String()
		if host, _, splitErr := net.SplitHostPort(ip); splitErr == nil {
			ip = host
		}
		if err := s.store.Touch(context.Background(), deviceID, &ip); err != nil {
			s.logger.Warn("connect liveness update failed", "device_id", deviceID, "error", err)
		}
	}

	go client.writePump(s.wsCfg)
	go s.readPump(client, deviceID)
}

// readPump reads frames from the socket and hands them to the frame
// router until the connection dies.
func (s *Server) readPump(c *wsConn, deviceID string) {
	defer func() {
		s.sessions.Unregister(deviceID, c)
		c.closeSend()
		c.conn.Close()
	}()

	pingInterval := time.Duration(s.wsCfg.PingInterval) * time.Second
	pongWait := time.Duration(s.wsCfg.PongTimeout) * time.Second

	c.conn.SetReadLimit(int64(s.wsCfg.MaxMessageSize))
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read error", "device_id", deviceID, "error", err)
			} else {
				s.logger.Debug("websocket closed", "device_id", deviceID, "error", err)
			}
			return
		}

		// Any inbound traffic resets the read deadline; device heartbeats
		// double as protocol keep-alives.
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))

		s.frames.Route(context.Background(), c, deviceID, message)
	}
}

// writePump drains the send channel onto the socket and keeps the
// connection alive with protocol pings.
func (c *wsConn) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second

	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
