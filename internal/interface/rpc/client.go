package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/paychan-labs/paychand/internal/core/ports"
)

const defaultCallTimeout = 30 * time.Second

// Client is the outbound half of the peer RPC channel. It implements
// ports.PeerClient against another daemon's Server.
type Client struct {
	baseURL   string
	authToken string
	http      *http.Client
}

func NewClient(baseURL, authToken string) *Client {
	return &Client{
		baseURL:   baseURL,
		authToken: authToken,
		http:      &http.Client{Timeout: defaultCallTimeout},
	}
}

func (c *Client) SendMessage(ctx context.Context, message json.RawMessage) error {
	return c.call(ctx, MethodSendMessage, message, nil)
}

func (c *Client) SendTransfer(ctx context.Context, transfer ports.TransferEnvelope) error {
	return c.call(ctx, MethodSendTransfer, transfer, nil)
}

func (c *Client) FulfillCondition(
	ctx context.Context, transferID, fulfillment string,
) (string, error) {
	var result claimResult
	err := c.call(ctx, MethodFulfill, fulfillParams{
		ID: transferID, Fulfillment: fulfillment,
	}, &result)
	if err != nil {
		return "", err
	}
	return result.Claim, nil
}

func (c *Client) RejectTransfer(ctx context.Context, transferID, reason string) error {
	return c.call(ctx, MethodReject, rejectParams{ID: transferID, Reason: reason}, nil)
}

func (c *Client) GetOutgoingTxID(ctx context.Context) (string, error) {
	var result txidResult
	if err := c.call(ctx, MethodGetOutgoingTxID, struct{}{}, &result); err != nil {
		return "", err
	}
	return result.TxID, nil
}

func (c *Client) call(ctx context.Context, method string, params, result any) error {
	rawParams, err := json.Marshal(params)
	if err != nil {
		return err
	}
	body, err := json.Marshal(rpcRequest{Method: method, Params: rawParams})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.baseURL+"/rpc", bytes.NewReader(body),
	)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.authToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s", ports.ErrPeerUnavailable, err)
	}
	defer resp.Body.Close()

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %s", ports.ErrPeerUnavailable, err)
	}

	var decoded rpcResponse
	if err := json.Unmarshal(buf, &decoded); err != nil {
		return fmt.Errorf("%w: malformed response", ports.ErrPeerUnavailable)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: %s", ports.ErrPeerUnavailable, decoded.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("peer refused %s: %s", method, decoded.Error)
	}

	if result != nil && decoded.Result != nil {
		rawResult, err := json.Marshal(decoded.Result)
		if err != nil {
			return err
		}
		return json.Unmarshal(rawResult, result)
	}
	return nil
}
