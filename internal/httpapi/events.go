package httpapi

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/solpond/arena/internal/obslog"
	"github.com/solpond/arena/pkg/arenadto"
)

// handleLobbyEvents upgrades to a websocket and streams lobby snapshots
// until the client disconnects or the lobby is deleted. Each committed
// write publishes one event; the current snapshot is sent first so the
// client never starts blind.
func (s *Server) handleLobbyEvents(c *gin.Context) {
	lobbyID := c.Param("id")
	l, err := s.lobbies.Get(c.Request.Context(), lobbyID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if l.Member(caller(c)) == nil {
		abortWithError(c, arenadto.ErrInvalidLobby)
		return
	}

	sub := s.st.SubscribeLobby(c.Request.Context(), lobbyID)
	defer sub.Cancel()

	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		obslog.L().Warn("ws_accept_error", zap.String("lobby_id", lobbyID), zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := c.Request.Context()
	if err := wsjson.Write(ctx, conn, l); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				return
			}
			if ev.Deleted {
				return
			}
		}
	}
}

func (s *Server) handleGameEvents(c *gin.Context) {
	gameID := c.Param("id")
	g, err := s.matches.Get(c.Request.Context(), gameID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if !g.HasPlayer(caller(c)) {
		abortWithError(c, arenadto.ErrPermissionDenied)
		return
	}

	sub := s.st.SubscribeGame(c.Request.Context(), gameID)
	defer sub.Cancel()

	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		obslog.L().Warn("ws_accept_error", zap.String("game_id", gameID), zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := c.Request.Context()
	if err := wsjson.Write(ctx, conn, g); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				return
			}
		}
	}
}
