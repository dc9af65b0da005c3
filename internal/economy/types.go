// Package economy provides the agent data model and the epoch simulation.
// Everything in this package except Engine is pure: the same agents, event and
// seed always produce the same epoch.
package economy

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status bands. Struggling is a warning band; bankrupt is terminal.
type Status string

const (
	StatusActive     Status = "active"
	StatusStruggling Status = "struggling"
	StatusBankrupt   Status = "bankrupt"
)

var (
	// StrugglingThreshold is the balance below which a solvent agent is struggling.
	StrugglingThreshold = decimal.NewFromInt(200)

	// BankruptcyFloor is the balance below which an agent is bankrupt at epoch close.
	BankruptcyFloor = decimal.NewFromInt(1)
)

// StatusFor derives the status for a balance. A bankrupt agent stays bankrupt.
func StatusFor(prev Status, balance decimal.Decimal) Status {
	if prev == StatusBankrupt {
		return StatusBankrupt
	}
	switch {
	case balance.LessThan(BankruptcyFloor):
		return StatusBankrupt
	case balance.LessThan(StrugglingThreshold):
		return StatusStruggling
	default:
		return StatusActive
	}
}

// ParseStatus converts raw input into a Status.
func ParseStatus(value string) (Status, error) {
	switch Status(value) {
	case StatusActive, StatusStruggling, StatusBankrupt:
		return Status(value), nil
	}
	return "", fmt.Errorf("invalid status %q", value)
}

// TxType classifies a ledger transaction.
type TxType string

const (
	TxTrade       TxType = "trade"
	TxInvestment  TxType = "investment"
	TxInterest    TxType = "interest"
	TxWager       TxType = "wager"
	TxTheft       TxType = "theft"
	TxScam        TxType = "scam"
	TxFee         TxType = "fee"
	TxRent        TxType = "rent"
	TxDonation    TxType = "donation"
	TxLoss        TxType = "loss"
	TxEventPayout TxType = "event_payout"
	TxUpkeep      TxType = "upkeep"
	TxWriteoff    TxType = "bankruptcy_writeoff"
)

var validTxTypes = []TxType{
	TxTrade, TxInvestment, TxInterest, TxWager, TxTheft, TxScam, TxFee,
	TxRent, TxDonation, TxLoss, TxEventPayout, TxUpkeep, TxWriteoff,
}

// IsValid reports whether t is one of the known transaction types.
func (t TxType) IsValid() bool {
	for _, candidate := range validTxTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// Agent is an economic participant. Balance is mutated only by the epoch engine.
type Agent struct {
	ID              string          `json:"id" db:"id"`
	Name            string          `json:"name" db:"name"`
	Archetype       Archetype       `json:"archetype" db:"archetype"`
	Balance         decimal.Decimal `json:"balance" db:"balance"`
	StartingBalance decimal.Decimal `json:"starting_balance" db:"starting_balance"`
	Status          Status          `json:"status" db:"status"`
	TotalEarned     decimal.Decimal `json:"total_earned" db:"total_earned"`
	TotalSpent      decimal.Decimal `json:"total_spent" db:"total_spent"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// Participating reports whether the agent takes part in new economic activity.
func (a Agent) Participating() bool {
	return a.Status != StatusBankrupt
}

// Transaction is one immutable ledger row. A nil From or To is the market:
// money created from or destroyed into nothing.
type Transaction struct {
	ID        int64           `json:"id" db:"id"`
	Epoch     int64           `json:"epoch" db:"epoch"`
	Seq       int             `json:"seq" db:"seq"`
	From      *string         `json:"from_agent" db:"from_agent"`
	To        *string         `json:"to_agent" db:"to_agent"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	Type      TxType          `json:"type" db:"type"`
	Note      string          `json:"note" db:"note"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Involves reports whether agentID is either side of the transaction.
func (t Transaction) Involves(agentID string) bool {
	return (t.From != nil && *t.From == agentID) || (t.To != nil && *t.To == agentID)
}

// Counterparty returns the other agent in a transfer, or "" for market rows.
func (t Transaction) Counterparty(agentID string) string {
	switch {
	case t.From != nil && *t.From == agentID && t.To != nil:
		return *t.To
	case t.To != nil && *t.To == agentID && t.From != nil:
		return *t.From
	}
	return ""
}

// DeltaFor returns the signed balance change the transaction applies to agentID.
func (t Transaction) DeltaFor(agentID string) decimal.Decimal {
	delta := decimal.Zero
	if t.To != nil && *t.To == agentID {
		delta = delta.Add(t.Amount)
	}
	if t.From != nil && *t.From == agentID {
		delta = delta.Sub(t.Amount)
	}
	return delta
}

// Epoch is the summary row for one committed round.
type Epoch struct {
	Number       int64     `json:"epoch" db:"number"`
	Event        Event     `json:"event" db:"event"`
	Seed         int64     `json:"seed" db:"seed"`
	TxCount      int       `json:"transaction_count" db:"tx_count"`
	Bankruptcies int       `json:"bankruptcies" db:"bankruptcies"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Snapshot is an agent's balance and status at the close of an epoch.
// Epoch 0 holds the seeded starting state.
type Snapshot struct {
	AgentID string          `json:"agent_id" db:"agent_id"`
	Epoch   int64           `json:"epoch" db:"epoch"`
	Balance decimal.Decimal `json:"balance" db:"balance"`
	Status  Status          `json:"status" db:"status"`
}

func strPtr(s string) *string { return &s }
