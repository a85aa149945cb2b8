package domain

// Solana JSON-RPC wire shapes used by the chain client. Only the fields the
// settlement engine reads are declared.

type SolanaCommitment string

const (
	CommitmentProcessed SolanaCommitment = "processed"
	CommitmentConfirmed SolanaCommitment = "confirmed"
	CommitmentFinalized SolanaCommitment = "finalized"
)

type LatestBlockhashValue struct {
	Blockhash            string `json:"blockhash"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

type LatestBlockhashResult struct {
	Value LatestBlockhashValue `json:"value"`
}

type SignatureStatus struct {
	Slot               uint64      `json:"slot"`
	Confirmations      *uint64     `json:"confirmations"`
	ConfirmationStatus string      `json:"confirmationStatus"`
	Err                interface{} `json:"err"`
}

type SignatureStatusesResult struct {
	Value []*SignatureStatus `json:"value"`
}

type UITokenAmount struct {
	Amount         string `json:"amount"`
	Decimals       int32  `json:"decimals"`
	UIAmountString string `json:"uiAmountString"`
}

type TokenBalance struct {
	AccountIndex  int           `json:"accountIndex"`
	Mint          string        `json:"mint"`
	Owner         string        `json:"owner"`
	UITokenAmount UITokenAmount `json:"uiTokenAmount"`
}

type TransactionMeta struct {
	Err               interface{}    `json:"err"`
	Fee               uint64         `json:"fee"`
	PreBalances       []uint64       `json:"preBalances"`
	PostBalances      []uint64       `json:"postBalances"`
	PreTokenBalances  []TokenBalance `json:"preTokenBalances"`
	PostTokenBalances []TokenBalance `json:"postTokenBalances"`
}

type TransactionMessage struct {
	AccountKeys []string `json:"accountKeys"`
}

type TransactionEnvelope struct {
	Signatures []string           `json:"signatures"`
	Message    TransactionMessage `json:"message"`
}

type SolanaTransaction struct {
	Slot        uint64              `json:"slot"`
	BlockTime   *int64              `json:"blockTime"`
	Meta        *TransactionMeta    `json:"meta"`
	Transaction TransactionEnvelope `json:"transaction"`
}

// RPCError is the JSON-RPC error object. The network's own failure strings
// (e.g. insufficient fee-payer funds) surface here and are preserved
// verbatim into the settlement audit trail.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

func (e *RPCError) Error() string { return e.Message }
