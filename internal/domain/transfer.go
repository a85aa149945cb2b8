package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransferFact is the effective transfer extracted from a finalized on-chain
// transaction. It is the only shape in which external transfers are admitted
// into the ledger.
type TransferFact struct {
	Signature string          `json:"signature"`
	Sender    string          `json:"sender"`
	Recipient string          `json:"recipient"`
	Amount    decimal.Decimal `json:"amount"`
	Slot      uint64          `json:"slot"`
	Timestamp time.Time       `json:"timestamp"`
}
