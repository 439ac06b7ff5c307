package rpc

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/paychan-labs/paychand/internal/core/application"
	"github.com/paychan-labs/paychand/internal/core/ports"
)

// Method names exchanged between peers.
const (
	MethodSendMessage     = "send_message"
	MethodSendTransfer    = "send_transfer"
	MethodFulfill         = "fulfill_condition"
	MethodReject          = "reject_incoming_transfer"
	MethodGetOutgoingTxID = "get_outgoing_txid"
)

type rpcRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type rpcResponse struct {
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

type fulfillParams struct {
	ID          string `json:"id"`
	Fulfillment string `json:"fulfillment"`
}

type rejectParams struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

type claimResult struct {
	Claim string `json:"claim"`
}

type txidResult struct {
	TxID string `json:"txid"`
}

// Server exposes the peer RPC surface over HTTP. All methods go through a
// single POST endpoint guarded by a shared bearer token.
type Server struct {
	svc       *application.Service
	authToken string
	srv       *http.Server
}

func NewServer(port uint32, authToken string, svc *application.Service) *Server {
	s := &Server{svc: svc, authToken: authToken}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.POST("/rpc", s.checkAuth, s.handleRPC)

	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}
	return s
}

func (s *Server) Start() error {
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handler exposes the configured routes, for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) checkAuth(c *gin.Context) {
	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, rpcResponse{Error: "unauthorized"})
		return
	}
	c.Next()
}

func (s *Server) handleRPC(c *gin.Context) {
	var req rpcRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, rpcResponse{Error: "malformed request"})
		return
	}

	result, err := s.dispatch(c.Request.Context(), req)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			log.WithError(err).WithField("method", req.Method).Warn("rpc call failed")
		}
		c.JSON(status, rpcResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, rpcResponse{Result: result})
}

func (s *Server) dispatch(ctx context.Context, req rpcRequest) (any, error) {
	switch req.Method {
	case MethodSendMessage:
		return nil, s.svc.HandleSendMessage(ctx, req.Params)

	case MethodSendTransfer:
		var envelope ports.TransferEnvelope
		if err := json.Unmarshal(req.Params, &envelope); err != nil {
			return nil, fmt.Errorf("%w: malformed transfer", application.ErrInvalidFields)
		}
		return nil, s.svc.HandleSendTransfer(ctx, envelope)

	case MethodFulfill:
		var params fulfillParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, fmt.Errorf("%w: malformed params", application.ErrInvalidFields)
		}
		claim, err := s.svc.HandleFulfillCondition(ctx, params.ID, params.Fulfillment)
		if err != nil {
			return nil, err
		}
		return claimResult{Claim: claim}, nil

	case MethodReject:
		var params rejectParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, fmt.Errorf("%w: malformed params", application.ErrInvalidFields)
		}
		return nil, s.svc.HandleRejectTransfer(ctx, params.ID, params.Reason)

	case MethodGetOutgoingTxID:
		txid, err := s.svc.GetOutgoingTxID(ctx)
		if err != nil {
			return nil, err
		}
		return txidResult{TxID: txid}, nil

	default:
		return nil, fmt.Errorf("unknown method %q", req.Method)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, application.ErrInvalidFields),
		errors.Is(err, application.ErrConditionMismatch),
		errors.Is(err, application.ErrClaimNotIncreasing),
		errors.Is(err, application.ErrClaimDecreased),
		errors.Is(err, application.ErrClaimTooLarge):
		return http.StatusBadRequest
	case errors.Is(err, application.ErrTransferConflict):
		return http.StatusConflict
	case errors.Is(err, application.ErrTransferNotFound):
		return http.StatusNotFound
	case errors.Is(err, application.ErrChannelNotOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, ports.ErrNodeUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
