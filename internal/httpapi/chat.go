package httpapi

import (
	"context"
	"net/http"
	"sync/atomic"

	"protorelay/internal/chat"

	"github.com/labstack/echo/v4"
)

// ChatServer exposes read-only introspection over a running chat Room, plus
// a WebSocket endpoint that lets browser clients join the same relay as raw
// TCP peers (see chat.Upgrade).
type ChatServer struct {
	echo  *echo.Echo
	room  *chat.Room
	relay *chat.Server

	runCtx atomic.Pointer[context.Context]
}

// NewChatServer constructs the chat relay's introspection API. relay is the
// TCP accept loop whose Room and HandleConn this API shares, so a browser
// WebSocket client ends up in the exact same member set as a raw TCP peer.
func NewChatServer(relay *chat.Server) *ChatServer {
	e := newEcho()
	s := &ChatServer{echo: e, room: relay.Room(), relay: relay}
	e.GET("/health", s.handleHealth)
	e.GET("/api/room", s.handleRoom)
	e.GET("/ws", s.handleWS)
	return s
}

// Echo exposes the underlying Echo instance for tests.
func (s *ChatServer) Echo() *echo.Echo { return s.echo }

// Run starts the API server and blocks until ctx is cancelled. ctx is also
// passed to Server.HandleConn for every WebSocket connection accepted while
// running, where it bounds the name ceremony; a joined WebSocket connection
// is not closed when ctx is cancelled.
func (s *ChatServer) Run(ctx context.Context, addr string) error {
	s.runCtx.Store(&ctx)
	return runEcho(ctx, s.echo, addr)
}

func (s *ChatServer) handleWS(c echo.Context) error {
	ctx := context.Background()
	if p := s.runCtx.Load(); p != nil {
		ctx = *p
	}
	conn, err := chat.Upgrade(c.Response(), c.Request())
	if err != nil {
		return err
	}
	s.relay.HandleConn(ctx, conn)
	return nil
}

type chatHealthResponse struct {
	Status string `json:"status"`
}

func (s *ChatServer) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, chatHealthResponse{Status: "ok"})
}

type memberResponse struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
}

type roomResponse struct {
	MemberCount int              `json:"member_count"`
	Members     []memberResponse `json:"members"`
}

func (s *ChatServer) handleRoom(c echo.Context) error {
	members := s.room.Snapshot(c.Request().Context())
	resp := roomResponse{Members: make([]memberResponse, 0, len(members))}
	for _, m := range members {
		resp.Members = append(resp.Members, memberResponse{ID: uint64(m.ID), Name: m.Name})
	}
	resp.MemberCount = len(resp.Members)
	return c.JSON(http.StatusOK, resp)
}
