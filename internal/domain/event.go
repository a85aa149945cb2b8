package domain

import "time"

type SettlementEventType string

const (
	EventClaimSettled   SettlementEventType = "claim_settled"
	EventStakeChanged   SettlementEventType = "stake_changed"
	EventBalanceChanged SettlementEventType = "balance_changed"
)

// SettlementEvent is pushed to the owner's websocket connections after a
// settlement outcome commits. Events are advisory; the ledger remains the
// source of truth.
type SettlementEvent struct {
	Type      SettlementEventType `json:"type"`
	OwnerID   string              `json:"owner_id"`
	Payload   interface{}         `json:"payload,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

// EventPublisher delivers settlement events to connected clients. A no-op
// implementation is acceptable wherever event delivery is not wired.
type EventPublisher interface {
	Publish(event SettlementEvent)
}
