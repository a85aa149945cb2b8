package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/EM-ade/realmkin-sub000/internal/domain"
	"github.com/EM-ade/realmkin-sub000/pkg/config"
)

// SolanaClient speaks raw JSON-RPC to a Solana node. Transient transport
// failures are retried with exponential backoff; node-level rejections
// (RPCError) are returned to the caller unretried.
type SolanaClient struct {
	rpcURL     string
	maxRetries int
	httpClient *http.Client
	logger     zerolog.Logger
}

func NewSolanaClient(cfg *config.Config, logger zerolog.Logger) *SolanaClient {
	return &SolanaClient{
		rpcURL:     cfg.Solana.RPCURL,
		maxRetries: cfg.Solana.MaxRetries,
		httpClient: &http.Client{
			Timeout: cfg.Solana.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger,
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage  `json:"result"`
	Error  *domain.RPCError `json:"error"`
}

func (c *SolanaClient) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal rpc request: %v", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * 500 * time.Millisecond
			c.logger.Warn().
				Str("method", method).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Err(lastErr).
				Msg("Retrying RPC call")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		lastErr = c.callOnce(ctx, method, bodyBytes, result)
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("rpc call %s failed after %d attempts: %w", method, c.maxRetries+1, lastErr)
}

func (c *SolanaClient) callOnce(ctx context.Context, method string, body []byte, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "POST", c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach rpc node: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		responseBody, _ := io.ReadAll(resp.Body)
		c.logger.Error().
			Str("method", method).
			Int("status_code", resp.StatusCode).
			Str("response_body", string(responseBody)).
			Msg("RPC request failed")
		return fmt.Errorf("rpc request failed with status: %s", resp.Status)
	}

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %v", err)
	}

	var envelope rpcResponse
	if err := json.Unmarshal(responseBody, &envelope); err != nil {
		return fmt.Errorf("failed to parse rpc response: %v", err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}
	if result != nil {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("failed to parse rpc result: %v", err)
		}
	}
	return nil
}

// isTransient reports whether an RPC failure is worth retrying. Node-level
// rejections carry their own RPCError and are never retried here.
func isTransient(err error) bool {
	if _, ok := err.(*domain.RPCError); ok {
		return false
	}
	msg := strings.ToLower(err.Error())
	transient := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary",
		"status: 429",
		"status: 500",
		"status: 502",
		"status: 503",
		"status: 504",
	}
	for _, marker := range transient {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func (c *SolanaClient) GetLatestBlockhash(ctx context.Context) (*domain.LatestBlockhashValue, error) {
	var result domain.LatestBlockhashResult
	params := []interface{}{
		map[string]interface{}{"commitment": domain.CommitmentFinalized},
	}
	if err := c.call(ctx, "getLatestBlockhash", params, &result); err != nil {
		return nil, fmt.Errorf("failed to fetch latest blockhash: %w", err)
	}
	c.logger.Debug().
		Str("blockhash", result.Value.Blockhash).
		Uint64("last_valid_block_height", result.Value.LastValidBlockHeight).
		Msg("Fetched latest blockhash")
	return &result.Value, nil
}

// SendTransaction submits a signed, base64-encoded transaction and returns
// its signature. An *domain.RPCError return means the node rejected the
// transaction outright and it was never queued.
func (c *SolanaClient) SendTransaction(ctx context.Context, signedTxBase64 string) (string, error) {
	var signature string
	params := []interface{}{
		signedTxBase64,
		map[string]interface{}{"encoding": "base64", "skipPreflight": false},
	}
	if err := c.call(ctx, "sendTransaction", params, &signature); err != nil {
		return "", err
	}
	c.logger.Info().
		Str("signature", signature).
		Msg("Transaction submitted")
	return signature, nil
}

func (c *SolanaClient) GetSignatureStatuses(ctx context.Context, signatures []string) ([]*domain.SignatureStatus, error) {
	var result domain.SignatureStatusesResult
	params := []interface{}{
		signatures,
		map[string]interface{}{"searchTransactionHistory": true},
	}
	if err := c.call(ctx, "getSignatureStatuses", params, &result); err != nil {
		return nil, fmt.Errorf("failed to fetch signature statuses: %w", err)
	}
	return result.Value, nil
}

// GetTransaction fetches a finalized transaction. A nil transaction with a
// nil error means the signature is unknown to the node at finalized
// commitment.
func (c *SolanaClient) GetTransaction(ctx context.Context, signature string) (*domain.SolanaTransaction, error) {
	var raw json.RawMessage
	params := []interface{}{
		signature,
		map[string]interface{}{
			"commitment":                     domain.CommitmentFinalized,
			"encoding":                       "json",
			"maxSupportedTransactionVersion": 0,
		},
	}
	if err := c.call(ctx, "getTransaction", params, &raw); err != nil {
		return nil, fmt.Errorf("failed to fetch transaction %s: %w", signature, err)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var tx domain.SolanaTransaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		return nil, fmt.Errorf("failed to parse transaction %s: %v", signature, err)
	}
	return &tx, nil
}

// WaitForFinalized polls signature statuses until the transaction reaches
// finalized commitment, the transaction fails on chain, or the deadline
// passes.
func (c *SolanaClient) WaitForFinalized(ctx context.Context, signature string, pollInterval time.Duration) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		statuses, err := c.GetSignatureStatuses(ctx, []string{signature})
		if err == nil && len(statuses) > 0 && statuses[0] != nil {
			status := statuses[0]
			if status.Err != nil {
				errJSON, _ := json.Marshal(status.Err)
				return &domain.RPCError{
					Code:    -1,
					Message: fmt.Sprintf("transaction %s failed on chain: %s", signature, string(errJSON)),
				}
			}
			if status.ConfirmationStatus == string(domain.CommitmentFinalized) {
				c.logger.Info().
					Str("signature", signature).
					Uint64("slot", status.Slot).
					Msg("Transaction finalized")
				return nil
			}
		}
		if err != nil {
			c.logger.Warn().
				Str("signature", signature).
				Err(err).
				Msg("Signature status poll failed")
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for finalization of %s: %w", signature, ctx.Err())
		case <-ticker.C:
		}
	}
}
