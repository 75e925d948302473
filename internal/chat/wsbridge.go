package chat

import (
	"bytes"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// wsConn adapts a *websocket.Conn to net.Conn so the same staging ceremony,
// PerConnection actor, and line codec that serve raw TCP peers also serve
// browser clients connecting over WebSocket. Each text WebSocket message
// carries exactly one line-protocol record, with the LF the codec expects
// added back on read and stripped off on write.
type wsConn struct {
	ws       *websocket.Conn
	readBuf  bytes.Buffer
	writeBuf bytes.Buffer
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// Upgrade upgrades an HTTP request to a WebSocket and wraps the result as a
// net.Conn ready for Server.HandleConn (exported from server.go for exactly
// this purpose).
func Upgrade(w http.ResponseWriter, r *http.Request) (net.Conn, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{ws: conn}, nil
}

func (c *wsConn) Read(p []byte) (int, error) {
	for c.readBuf.Len() == 0 {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return 0, io.EOF
			}
			return 0, err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		c.readBuf.Write(data)
		c.readBuf.WriteByte('\n')
	}
	return c.readBuf.Read(p)
}

func (c *wsConn) Write(p []byte) (int, error) {
	c.writeBuf.Write(p)
	for {
		data := c.writeBuf.Bytes()
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		record := append([]byte(nil), data[:i]...)
		c.writeBuf.Next(i + 1)
		if err := c.ws.WriteMessage(websocket.TextMessage, record); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func (c *wsConn) Close() error                       { return c.ws.Close() }
func (c *wsConn) LocalAddr() net.Addr                { return c.ws.LocalAddr() }
func (c *wsConn) RemoteAddr() net.Addr               { return c.ws.RemoteAddr() }
func (c *wsConn) SetDeadline(t time.Time) error      { return setWSDeadline(c.ws, t) }
func (c *wsConn) SetReadDeadline(t time.Time) error  { return c.ws.SetReadDeadline(t) }
func (c *wsConn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }

func setWSDeadline(ws *websocket.Conn, t time.Time) error {
	if err := ws.SetReadDeadline(t); err != nil {
		return err
	}
	return ws.SetWriteDeadline(t)
}
