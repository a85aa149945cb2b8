package rpc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EM-ade/realmkin-sub000/internal/domain"
	"github.com/EM-ade/realmkin-sub000/pkg/config"
)

const (
	rewardMint      = "reward-mint"
	senderWallet    = "sender-wallet"
	recipientWallet = "recipient-wallet"
)

func newVerifier(t *testing.T, responseBody string) IChainVerifier {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, responseBody)
	}))
	t.Cleanup(srv.Close)

	cfg := &config.Config{}
	cfg.Solana.RPCURL = srv.URL
	cfg.Solana.Timeout = 5 * time.Second
	cfg.Solana.MaxRetries = 0
	cfg.Solana.RewardMint = rewardMint

	logger := zerolog.Nop()
	return NewChainVerifier(NewSolanaClient(cfg, logger), cfg, logger)
}

// transferResult is a finalized transaction moving 200 reward tokens
// (decimals 6) from sender to recipient.
const transferResult = `{
	"jsonrpc": "2.0",
	"id": 1,
	"result": {
		"slot": 12345,
		"blockTime": 1750000000,
		"meta": {
			"err": null,
			"fee": 5000,
			"preTokenBalances": [
				{"accountIndex": 1, "mint": "reward-mint", "owner": "sender-wallet", "uiTokenAmount": {"amount": "250000000", "decimals": 6}},
				{"accountIndex": 2, "mint": "reward-mint", "owner": "recipient-wallet", "uiTokenAmount": {"amount": "0", "decimals": 6}}
			],
			"postTokenBalances": [
				{"accountIndex": 1, "mint": "reward-mint", "owner": "sender-wallet", "uiTokenAmount": {"amount": "50000000", "decimals": 6}},
				{"accountIndex": 2, "mint": "reward-mint", "owner": "recipient-wallet", "uiTokenAmount": {"amount": "200000000", "decimals": 6}}
			]
		},
		"transaction": {"signatures": ["sig-1"], "message": {"accountKeys": []}}
	}
}`

func TestVerifyTransferExtractsFact(t *testing.T) {
	v := newVerifier(t, transferResult)

	fact, err := v.VerifyTransfer(context.Background(), "sig-1", recipientWallet)
	require.NoError(t, err)
	assert.Equal(t, "sig-1", fact.Signature)
	assert.Equal(t, senderWallet, fact.Sender)
	assert.Equal(t, recipientWallet, fact.Recipient)
	assert.True(t, fact.Amount.Equal(decimal.RequireFromString("200")))
	assert.Equal(t, uint64(12345), fact.Slot)
	assert.Equal(t, time.Unix(1750000000, 0).UTC(), fact.Timestamp)
}

func TestVerifyTransferIsRepeatable(t *testing.T) {
	v := newVerifier(t, transferResult)
	ctx := context.Background()

	first, err := v.VerifyTransfer(ctx, "sig-1", recipientWallet)
	require.NoError(t, err)
	second, err := v.VerifyTransfer(ctx, "sig-1", recipientWallet)
	require.NoError(t, err)

	assert.Equal(t, first.Sender, second.Sender)
	assert.True(t, first.Amount.Equal(second.Amount))
	assert.Equal(t, first.Slot, second.Slot)
}

func TestVerifyTransferUnknownSignature(t *testing.T) {
	v := newVerifier(t, `{"jsonrpc":"2.0","id":1,"result":null}`)

	_, err := v.VerifyTransfer(context.Background(), "sig-unknown", recipientWallet)
	var invalid *domain.InvalidTransferError
	require.ErrorAs(t, err, &invalid)
	assert.Contains(t, invalid.Reason, "not found at finalized commitment")
}

func TestVerifyTransferFailedOnChain(t *testing.T) {
	v := newVerifier(t, `{
		"jsonrpc": "2.0", "id": 1,
		"result": {
			"slot": 12345,
			"meta": {"err": {"InstructionError": [0, "Custom"]}, "preTokenBalances": [], "postTokenBalances": []},
			"transaction": {"signatures": ["sig-1"], "message": {"accountKeys": []}}
		}
	}`)

	_, err := v.VerifyTransfer(context.Background(), "sig-1", recipientWallet)
	var invalid *domain.InvalidTransferError
	require.ErrorAs(t, err, &invalid)
	assert.Contains(t, invalid.Reason, "failed on chain")
}

func TestVerifyTransferRequiresCreditToRecipient(t *testing.T) {
	v := newVerifier(t, transferResult)

	// The transaction is real but pays someone else.
	_, err := v.VerifyTransfer(context.Background(), "sig-1", "other-wallet")
	var invalid *domain.InvalidTransferError
	assert.ErrorAs(t, err, &invalid)
}

func TestVerifyTransferIgnoresOtherMints(t *testing.T) {
	v := newVerifier(t, `{
		"jsonrpc": "2.0", "id": 1,
		"result": {
			"slot": 12345,
			"meta": {
				"err": null,
				"preTokenBalances": [
					{"accountIndex": 1, "mint": "some-other-mint", "owner": "recipient-wallet", "uiTokenAmount": {"amount": "0", "decimals": 6}}
				],
				"postTokenBalances": [
					{"accountIndex": 1, "mint": "some-other-mint", "owner": "recipient-wallet", "uiTokenAmount": {"amount": "200000000", "decimals": 6}}
				]
			},
			"transaction": {"signatures": ["sig-1"], "message": {"accountKeys": []}}
		}
	}`)

	_, err := v.VerifyTransfer(context.Background(), "sig-1", recipientWallet)
	var invalid *domain.InvalidTransferError
	assert.ErrorAs(t, err, &invalid)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, isTransient(errors.New("request timeout")))
	assert.True(t, isTransient(errors.New("dial tcp: connection refused")))
	assert.True(t, isTransient(errors.New("rpc request failed with status: 503 Service Unavailable")))

	assert.False(t, isTransient(&domain.RPCError{Code: -32002, Message: "Transaction simulation failed"}))
	assert.False(t, isTransient(errors.New("invalid params")))
}
