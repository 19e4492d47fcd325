package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// PayloadSigner produces the relay authentication header for a request body.
type PayloadSigner interface {
	SignPayload(body []byte) (string, error)
}

// RelayClient submits bundles to a private relay over JSON-RPC.
type RelayClient struct {
	url    string
	signer PayloadSigner
	client *http.Client
}

// NewRelayClient creates a client for the relay at url.
func NewRelayClient(url string, signer PayloadSigner) *RelayClient {
	return &RelayClient{
		url:    url,
		signer: signer,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Name implements Relay.
func (r *RelayClient) Name() string { return "flashbots" }

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type bundleParams struct {
	Txs         []hexutil.Bytes `json:"txs"`
	BlockNumber hexutil.Uint64  `json:"blockNumber"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// SendBundle submits txs for inclusion in exactly targetBlock.
func (r *RelayClient) SendBundle(ctx context.Context, txs []hexutil.Bytes, targetBlock uint64) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "eth_sendBundle",
		Params:  []any{bundleParams{Txs: txs, BlockNumber: hexutil.Uint64(targetBlock)}},
	})
	if err != nil {
		return fmt.Errorf("relay: marshal: %w", err)
	}

	sig, err := r.signer.SignPayload(body)
	if err != nil {
		return fmt.Errorf("relay: sign: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("relay: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Flashbots-Signature", sig)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("relay: send: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("relay: unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	var out rpcResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("relay: decode response: %w", err)
	}
	if out.Error != nil {
		return fmt.Errorf("relay: rpc error %d: %s", out.Error.Code, out.Error.Message)
	}
	return nil
}
