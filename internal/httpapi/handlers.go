package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/solpond/arena/pkg/arenadto"
)

func (s *Server) handleChallenge(c *gin.Context) {
	var req arenadto.ChallengeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Wallet == "" {
		abortWithError(c, arenadto.ErrUnauthenticated)
		return
	}
	nonce, err := s.auth.Challenge(c.Request.Context(), req.Wallet)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, arenadto.ChallengeResponse{Nonce: nonce, ExpiresIn: 300})
}

func (s *Server) handleToken(c *gin.Context) {
	var req arenadto.TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Wallet == "" || req.Signature == "" {
		abortWithError(c, arenadto.ErrUnauthenticated)
		return
	}
	token, expires, err := s.auth.Token(c.Request.Context(), req.Wallet, req.Signature)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, arenadto.TokenResponse{Token: token, ExpiresAt: expires.Unix()})
}

func (s *Server) handleJoin(c *gin.Context) {
	l, err := s.lobbies.Join(c.Request.Context(), caller(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, arenadto.JoinLobbyResponse{LobbyID: l.ID})
}

func (s *Server) handleGetLobby(c *gin.Context) {
	l, err := s.lobbies.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

func (s *Server) handleLeave(c *gin.Context) {
	if err := s.lobbies.Leave(c.Request.Context(), caller(c), c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleRecordTransaction(c *gin.Context) {
	var req arenadto.RecordTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Signature == "" {
		abortWithError(c, arenadto.ErrTransactionNotFound)
		return
	}
	l, err := s.payments.RecordTransaction(c.Request.Context(), caller(c), c.Param("id"), req.Signature)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

func (s *Server) handleVerifyPayment(c *gin.Context) {
	var req arenadto.VerifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Signature == "" {
		abortWithError(c, arenadto.ErrTransactionNotFound)
		return
	}
	l, err := s.payments.VerifyEntryFeePayment(c.Request.Context(), caller(c), c.Param("id"), req.Signature)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

func (s *Server) handleRefreshPayments(c *gin.Context) {
	l, err := s.payments.RefreshPaymentStatus(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

func (s *Server) handleRefund(c *gin.Context) {
	var req arenadto.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Signature == "" {
		abortWithError(c, arenadto.ErrTransactionNotFound)
		return
	}
	sig, err := s.settlement.ProcessRefund(c.Request.Context(), caller(c), c.Param("id"), req.Signature)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, arenadto.RefundResponse{RefundSignature: sig})
}

func (s *Server) handleStartGame(c *gin.Context) {
	var req arenadto.StartGameRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.LobbyID == "" {
		abortWithError(c, arenadto.ErrLobbyNotFound)
		return
	}
	g, err := s.matches.Start(c.Request.Context(), caller(c), req.LobbyID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, arenadto.StartGameResponse{GameID: g.ID})
}

func (s *Server) handleGetGame(c *gin.Context) {
	g, err := s.matches.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

func (s *Server) handleScore(c *gin.Context) {
	var req arenadto.ScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, arenadto.ErrGameNotFound)
		return
	}
	// Scores are self-reported only; a playerId in the body other than the
	// caller is rejected rather than silently rewritten.
	if req.PlayerID != "" && req.PlayerID != caller(c) {
		abortWithError(c, arenadto.ErrPermissionDenied)
		return
	}
	g, err := s.matches.UpdateScore(c.Request.Context(), caller(c), c.Param("id"), req.Score)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

func (s *Server) handleEndGame(c *gin.Context) {
	g, err := s.matches.End(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, arenadto.EndGameResponse{Winner: g.Winner, FinalScores: g.Scores})
}

func (s *Server) handleDistribute(c *gin.Context) {
	_, sig, err := s.settlement.DistributePrize(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, arenadto.DistributeResponse{Signature: sig})
}
