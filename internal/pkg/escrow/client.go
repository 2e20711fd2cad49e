package escrow

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Client is the only component allowed to move real funds. Every method is a
// remote, fallible call; the lifecycle never reports a transition as committed
// before the corresponding call returned.
type Client interface {
	Open(ctx context.Context, matchID, depositorID string, amount decimal.Decimal) (string, error)
	Join(ctx context.Context, address, depositorID string, amount decimal.Decimal) error
	Settle(ctx context.Context, address, winnerID string, proof string) error
	Refund(ctx context.Context, address string) error
}

const defaultRequestTimeout = 15 * time.Second

// GatewayClient talks JSON to the chain gateway that owns the on-chain escrow
// program. The gateway is trusted; this client only shuttles intents.
type GatewayClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewGatewayClient(baseURL string) *GatewayClient {
	return &GatewayClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: defaultRequestTimeout,
		},
	}
}

type openRequest struct {
	MatchID     string `json:"match_id"`
	DepositorID string `json:"depositor_id"`
	Amount      string `json:"amount"`
}

type openResponse struct {
	Address string `json:"address"`
}

type joinRequest struct {
	DepositorID string `json:"depositor_id"`
	Amount      string `json:"amount"`
}

type settleRequest struct {
	WinnerID string `json:"winner_id"`
	Proof    string `json:"proof"`
}

func (c *GatewayClient) Open(ctx context.Context, matchID, depositorID string, amount decimal.Decimal) (string, error) {
	var response openResponse

	err := c.post(ctx, "/escrows", openRequest{
		MatchID:     matchID,
		DepositorID: depositorID,
		Amount:      amount.String(),
	}, &response)
	if err != nil {
		return "", errors.Wrap(err, "failed to open escrow")
	}

	if response.Address == "" {
		return "", errors.New("gateway returned an empty escrow address")
	}

	return response.Address, nil
}

func (c *GatewayClient) Join(ctx context.Context, address, depositorID string, amount decimal.Decimal) error {
	err := c.post(ctx, "/escrows/"+address+"/deposits", joinRequest{
		DepositorID: depositorID,
		Amount:      amount.String(),
	}, nil)

	return errors.Wrap(err, "failed to join escrow")
}

func (c *GatewayClient) Settle(ctx context.Context, address, winnerID string, proof string) error {
	err := c.post(ctx, "/escrows/"+address+"/settle", settleRequest{
		WinnerID: winnerID,
		Proof:    proof,
	}, nil)

	return errors.Wrap(err, "failed to settle escrow")
}

// Refund is idempotent: the gateway answers 409 when the escrow was already
// refunded or settled, which callers treat as a no-op.
func (c *GatewayClient) Refund(ctx context.Context, address string) error {
	err := c.post(ctx, "/escrows/"+address+"/refund", struct{}{}, nil)
	if errors.Is(err, errAlreadyResolved) {
		return nil
	}

	return errors.Wrap(err, "failed to refund escrow")
}

var errAlreadyResolved = errors.New("escrow already resolved")

func (c *GatewayClient) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "failed to marshal request")
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}

	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return errors.Wrap(err, "gateway request failed")
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode == http.StatusConflict {
		return errAlreadyResolved
	}

	if response.StatusCode < 200 || response.StatusCode > 299 {
		message, _ := io.ReadAll(io.LimitReader(response.Body, 512))

		return errors.Errorf("gateway returned %d: %s", response.StatusCode, string(message))
	}

	if out != nil {
		err = json.NewDecoder(response.Body).Decode(out)
		if err != nil {
			return errors.Wrap(err, "failed to decode response")
		}
	}

	return nil
}

var _ Client = (*GatewayClient)(nil)
