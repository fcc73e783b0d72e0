package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/solpond/arena/internal/auth"
	"github.com/solpond/arena/internal/lobby"
	"github.com/solpond/arena/internal/match"
	"github.com/solpond/arena/internal/obslog"
	"github.com/solpond/arena/internal/payment"
	"github.com/solpond/arena/internal/settlement"
	"github.com/solpond/arena/internal/store"
	"github.com/solpond/arena/pkg/arenadto"
)

const callerKey = "caller_wallet"

// Server wires the domain services behind the HTTP surface. Handlers only
// parse, authenticate and translate; every decision lives in the services.
type Server struct {
	st         *store.Store
	auth       *auth.Service
	lobbies    *lobby.Manager
	payments   *payment.Verifier
	matches    *match.Orchestrator
	settlement *settlement.Service
}

func NewServer(st *store.Store, a *auth.Service, lm *lobby.Manager, pv *payment.Verifier, mo *match.Orchestrator, ss *settlement.Service) *Server {
	return &Server{st: st, auth: a, lobbies: lm, payments: pv, matches: mo, settlement: ss}
}

// Router builds the gin engine with the full route table.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLog())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1")
	v1.POST("/auth/challenge", s.handleChallenge)
	v1.POST("/auth/token", s.handleToken)

	authed := v1.Group("", s.requireAuth())
	authed.POST("/lobbies/join", s.handleJoin)
	authed.GET("/lobbies/:id", s.handleGetLobby)
	authed.GET("/lobbies/:id/events", s.handleLobbyEvents)
	authed.POST("/lobbies/:id/leave", s.handleLeave)
	authed.POST("/lobbies/:id/transactions", s.handleRecordTransaction)
	authed.POST("/lobbies/:id/verify", s.handleVerifyPayment)
	authed.POST("/lobbies/:id/payments/refresh", s.handleRefreshPayments)
	authed.POST("/lobbies/:id/refund", s.handleRefund)
	authed.POST("/games", s.handleStartGame)
	authed.GET("/games/:id", s.handleGetGame)
	authed.GET("/games/:id/events", s.handleGameEvents)
	authed.POST("/games/:id/score", s.handleScore)
	authed.POST("/games/:id/end", s.handleEndGame)
	authed.POST("/games/:id/distribute", s.handleDistribute)

	return r
}

// requireAuth fails closed: no valid bearer token, no handler.
func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			abortWithError(c, arenadto.ErrUnauthenticated)
			return
		}
		wallet, err := s.auth.Verify(strings.TrimSpace(token))
		if err != nil {
			abortWithError(c, arenadto.ErrUnauthenticated)
			return
		}
		c.Set(callerKey, wallet)
		c.Next()
	}
}

func caller(c *gin.Context) string {
	return c.GetString(callerKey)
}

func requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if c.Writer.Status() >= 500 {
			obslog.L().Warn("http_request",
				zap.String("method", c.Request.Method),
				zap.String("path", c.FullPath()),
				zap.Int("status", c.Writer.Status()))
			return
		}
		obslog.L().Debug("http_request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()))
	}
}

func statusFor(category string) int {
	switch category {
	case arenadto.CategoryUnauthenticated:
		return http.StatusUnauthorized
	case arenadto.CategoryPermissionDenied:
		return http.StatusForbidden
	case arenadto.CategoryNotFound:
		return http.StatusNotFound
	case arenadto.CategoryFailedPrecondition:
		return http.StatusConflict
	case arenadto.CategoryValidationFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	var derr arenadto.DomainError
	if !errors.As(err, &derr) {
		obslog.L().Error("http_internal_error",
			zap.String("path", c.FullPath()), zap.Error(err))
		derr = arenadto.ErrInternal
	}
	c.AbortWithStatusJSON(statusFor(derr.Category), arenadto.ErrorResponse{
		Category:  derr.Category,
		Code:      derr.Code,
		Message:   derr.Message,
		Retryable: derr.Retryable,
	})
}
