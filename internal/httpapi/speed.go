package httpapi

import (
	"context"
	"net/http"
	"strconv"

	"protorelay/internal/store"

	"github.com/labstack/echo/v4"
)

// SpeedServer exposes read-only introspection over the speed daemon's
// ticket ledger.
type SpeedServer struct {
	echo  *echo.Echo
	store *store.Store
}

// NewSpeedServer constructs the speed daemon's introspection API.
func NewSpeedServer(st *store.Store) *SpeedServer {
	e := newEcho()
	s := &SpeedServer{echo: e, store: st}
	e.GET("/health", s.handleHealth)
	e.GET("/api/roads", s.handleRoads)
	e.GET("/api/tickets", s.handleTickets)
	return s
}

// Echo exposes the underlying Echo instance for tests.
func (s *SpeedServer) Echo() *echo.Echo { return s.echo }

// Run starts the API server and blocks until ctx is cancelled.
func (s *SpeedServer) Run(ctx context.Context, addr string) error {
	return runEcho(ctx, s.echo, addr)
}

func (s *SpeedServer) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, chatHealthResponse{Status: "ok"})
}

func (s *SpeedServer) handleRoads(c echo.Context) error {
	roads, err := s.store.Roads(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"roads": roads})
}

type ticketResponse struct {
	Plate      string `json:"plate"`
	Road       uint16 `json:"road"`
	Mile1      uint16 `json:"mile1"`
	Timestamp1 uint32 `json:"timestamp1"`
	Mile2      uint16 `json:"mile2"`
	Timestamp2 uint32 `json:"timestamp2"`
	Speed      uint16 `json:"speed"`
}

func (s *SpeedServer) handleTickets(c echo.Context) error {
	roadParam := c.QueryParam("road")
	road, err := strconv.ParseUint(roadParam, 10, 16)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "query parameter \"road\" must be a uint16")
	}

	limit := 50
	if limitParam := c.QueryParam("limit"); limitParam != "" {
		parsed, err := strconv.Atoi(limitParam)
		if err != nil || parsed <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "query parameter \"limit\" must be a positive integer")
		}
		limit = parsed
	}

	rows, err := s.store.TicketsByRoad(c.Request().Context(), uint16(road), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	out := make([]ticketResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, ticketResponse{
			Plate: row.Plate, Road: row.Road,
			Mile1: row.Mile1, Timestamp1: row.Timestamp1,
			Mile2: row.Mile2, Timestamp2: row.Timestamp2,
			Speed: row.Speed,
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"tickets": out})
}
