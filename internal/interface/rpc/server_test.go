package rpc_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/paychan-labs/paychand/internal/core/application"
	"github.com/paychan-labs/paychand/internal/core/ports"
	"github.com/paychan-labs/paychand/internal/infrastructure/db"
	"github.com/paychan-labs/paychand/pkg/paychan"
	"github.com/paychan-labs/paychand/internal/interface/rpc"
)

const (
	authToken    = "test-token"
	testTimeout  = int64(1_000_000)
	testCapacity = uint64(100_000)
)

var fundingTxID = strings.Repeat("cd", 32)

type stubNode struct {
	outputs []ports.TxOutput
}

func (n *stubNode) Broadcast(_ context.Context, tx *wire.MsgTx) (string, error) {
	return tx.TxHash().String(), nil
}

func (n *stubNode) GetTransaction(_ context.Context, txid string) (*ports.NodeTransaction, error) {
	if txid != fundingTxID {
		return nil, ports.ErrNodeUnavailable
	}
	return &ports.NodeTransaction{Outputs: n.outputs, Confirmations: 6}, nil
}

func (n *stubNode) GetChainTime(_ context.Context) (*ports.ChainTime, error) {
	return &ports.ChainTime{Height: 100, MedianTime: time.Now().Unix()}, nil
}

func (n *stubNode) FundAddress(_ context.Context, _ string, _ uint64) (string, error) {
	return fundingTxID, nil
}

func (n *stubNode) Close() {}

// stubPeer accepts everything without a counterparty.
type stubPeer struct{}

func (stubPeer) SendMessage(context.Context, json.RawMessage) error         { return nil }
func (stubPeer) SendTransfer(context.Context, ports.TransferEnvelope) error { return nil }
func (stubPeer) FulfillCondition(context.Context, string, string) (string, error) {
	return "", ports.ErrPeerUnavailable
}
func (stubPeer) RejectTransfer(context.Context, string, string) error { return nil }
func (stubPeer) GetOutgoingTxID(context.Context) (string, error) {
	return "", ports.ErrPeerUnavailable
}

type stubScheduler struct {
	mu   sync.Mutex
	jobs map[string]func()
}

func (s *stubScheduler) Start() {}
func (s *stubScheduler) Stop()  {}
func (s *stubScheduler) ScheduleTransferExpiry(id string, _ time.Time, expireFunc func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobs == nil {
		s.jobs = make(map[string]func())
	}
	s.jobs[id] = expireFunc
	return nil
}
func (s *stubScheduler) CancelTransferExpiry(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
}

func newTestServer(t *testing.T) (*rpc.Server, *application.Service) {
	t.Helper()
	ctx := context.Background()
	net := &chaincfg.RegressionNetParams

	localKey, err := paychan.NewKeyFromSecret(strings.Repeat("11", 32), net)
	require.NoError(t, err)
	peerKey, err := paychan.NewKeyFromSecret(strings.Repeat("22", 32), net)
	require.NoError(t, err)
	peerPub, err := paychan.NewKeyFromPublicKey(peerKey.PubKeyHex(), net)
	require.NoError(t, err)

	redeemScript, err := paychan.DeriveRedeemScript(
		localKey.PubKey(), peerKey.PubKey(), testTimeout,
	)
	require.NoError(t, err)
	outputScript, err := paychan.OutputDescriptor(redeemScript)
	require.NoError(t, err)

	repos, err := db.NewService(db.ServiceConfig{
		DbType:   "badger",
		DbConfig: []any{"", log.New()},
	})
	require.NoError(t, err)
	t.Cleanup(repos.Close)

	svc, err := application.NewService(application.ServiceOpts{
		LocalKey:      localKey,
		PeerKey:       peerPub,
		Timeout:       testTimeout,
		ChannelAmount: testCapacity,
		Fee:           1_000,
		MaxInFlight:   10_000,
		Net:           net,
	}, &stubNode{
		outputs: []ports.TxOutput{{Value: testCapacity, Script: outputScript}},
	}, repos, &stubScheduler{}, stubPeer{})
	require.NoError(t, err)
	require.NoError(t, svc.Connect(ctx))

	return rpc.NewServer(0, authToken, svc), svc
}

func post(
	t *testing.T, srv *rpc.Server, token, method string, params any,
) *httptest.ResponseRecorder {
	t.Helper()
	rawParams, err := json.Marshal(params)
	require.NoError(t, err)
	body, err := json.Marshal(map[string]json.RawMessage{
		"method": json.RawMessage(`"` + method + `"`),
		"params": rawParams,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if len(token) > 0 {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	srv.Handler().ServeHTTP(recorder, req)
	return recorder
}

func decodeResult(t *testing.T, recorder *httptest.ResponseRecorder, result any) {
	t.Helper()
	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  string          `json:"error"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	require.Empty(t, resp.Error)
	require.NoError(t, json.Unmarshal(resp.Result, result))
}

func condition(preimage string) (fulfillment, cond string) {
	fulfillment = base64.RawURLEncoding.EncodeToString([]byte(preimage))
	digest := sha256.Sum256([]byte(preimage))
	return fulfillment, base64.RawURLEncoding.EncodeToString(digest[:])
}

func TestServerAuth(t *testing.T) {
	srv, _ := newTestServer(t)

	recorder := post(t, srv, "", rpc.MethodGetOutgoingTxID, struct{}{})
	require.Equal(t, http.StatusUnauthorized, recorder.Code)

	recorder = post(t, srv, "wrong-token", rpc.MethodGetOutgoingTxID, struct{}{})
	require.Equal(t, http.StatusUnauthorized, recorder.Code)

	recorder = post(t, srv, authToken, rpc.MethodGetOutgoingTxID, struct{}{})
	require.Equal(t, http.StatusOK, recorder.Code)
}

func TestServerGetOutgoingTxID(t *testing.T) {
	srv, _ := newTestServer(t)

	recorder := post(t, srv, authToken, rpc.MethodGetOutgoingTxID, struct{}{})
	require.Equal(t, http.StatusOK, recorder.Code)

	var result struct {
		TxID string `json:"txid"`
	}
	decodeResult(t, recorder, &result)
	require.Equal(t, fundingTxID, result.TxID)
}

func TestServerUnknownMethod(t *testing.T) {
	srv, _ := newTestServer(t)

	recorder := post(t, srv, authToken, "bogus_method", struct{}{})
	require.Equal(t, http.StatusInternalServerError, recorder.Code)
}

func TestServerSendTransfer(t *testing.T) {
	srv, _ := newTestServer(t)

	_, cond := condition("rpc-preimage")
	envelope := ports.TransferEnvelope{
		ID:                 "rpc1",
		Amount:             "1500",
		ExecutionCondition: cond,
		ExpiresAt:          time.Now().Add(time.Minute).UTC().Format(time.RFC3339),
	}
	recorder := post(t, srv, authToken, rpc.MethodSendTransfer, envelope)
	require.Equal(t, http.StatusOK, recorder.Code)

	// Identical retry succeeds.
	recorder = post(t, srv, authToken, rpc.MethodSendTransfer, envelope)
	require.Equal(t, http.StatusOK, recorder.Code)

	// Id reuse with different fields is a conflict.
	conflicting := envelope
	conflicting.Amount = "9999"
	recorder = post(t, srv, authToken, rpc.MethodSendTransfer, conflicting)
	require.Equal(t, http.StatusConflict, recorder.Code)

	// Malformed amount.
	malformed := envelope
	malformed.ID = "rpc2"
	malformed.Amount = "not a number"
	recorder = post(t, srv, authToken, rpc.MethodSendTransfer, malformed)
	require.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestServerFulfillCondition(t *testing.T) {
	ctx := context.Background()
	srv, svc := newTestServer(t)

	fulfillment, cond := condition("claim-me")
	envelope := ports.TransferEnvelope{
		ID:                 "out1",
		Amount:             "2000",
		ExecutionCondition: cond,
		ExpiresAt:          time.Now().Add(time.Minute).UTC().Format(time.RFC3339),
	}
	require.NoError(t, svc.SendTransfer(ctx, envelope))

	recorder := post(t, srv, authToken, rpc.MethodFulfill, map[string]string{
		"id": "out1", "fulfillment": fulfillment,
	})
	require.Equal(t, http.StatusOK, recorder.Code)

	var result struct {
		Claim string `json:"claim"`
	}
	decodeResult(t, recorder, &result)
	_, err := hex.DecodeString(result.Claim)
	require.NoError(t, err)

	outgoing, _ := svc.Balances()
	require.Equal(t, uint64(2000), outgoing)

	// Wrong preimage.
	wrong, _ := condition("not-it")
	recorder = post(t, srv, authToken, rpc.MethodFulfill, map[string]string{
		"id": "out1", "fulfillment": wrong,
	})
	require.Equal(t, http.StatusBadRequest, recorder.Code)

	// Unknown transfer.
	recorder = post(t, srv, authToken, rpc.MethodFulfill, map[string]string{
		"id": "missing", "fulfillment": fulfillment,
	})
	require.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestServerReject(t *testing.T) {
	ctx := context.Background()
	srv, svc := newTestServer(t)

	_, cond := condition("rejected")
	envelope := ports.TransferEnvelope{
		ID:                 "rej1",
		Amount:             "1000",
		ExecutionCondition: cond,
		ExpiresAt:          time.Now().Add(time.Minute).UTC().Format(time.RFC3339),
	}
	require.NoError(t, svc.SendTransfer(ctx, envelope))

	recorder := post(t, srv, authToken, rpc.MethodReject, map[string]string{
		"id": "rej1", "reason": "over limit",
	})
	require.Equal(t, http.StatusOK, recorder.Code)
}
