// Package credits meters per-message usage against a user's credit balance.
package credits

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/portfolio-chat/internal/store"
)

// ErrInsufficient is returned when a balance cannot cover a message.
var ErrInsufficient = eris.New("credits: insufficient balance")

// Meter checks and debits usage balances.
type Meter interface {
	// Check returns ErrInsufficient when userID cannot afford one message.
	Check(ctx context.Context, userID string) error
	// Charge debits one message. It never takes a balance below zero.
	Charge(ctx context.Context, userID string) error
	// PerMessage is the fixed cost of one message.
	PerMessage() int64
}

// LedgerMeter implements Meter over a store.CreditLedger.
type LedgerMeter struct {
	ledger     store.CreditLedger
	perMessage int64
}

// NewLedgerMeter creates a LedgerMeter charging perMessage credits per message.
func NewLedgerMeter(ledger store.CreditLedger, perMessage int64) *LedgerMeter {
	if perMessage < 0 {
		perMessage = 0
	}
	return &LedgerMeter{ledger: ledger, perMessage: perMessage}
}

func (m *LedgerMeter) PerMessage() int64 { return m.perMessage }

func (m *LedgerMeter) Check(ctx context.Context, userID string) error {
	if m.perMessage == 0 {
		return nil
	}
	balance, err := m.ledger.GetCredits(ctx, userID)
	if err != nil {
		return eris.Wrapf(err, "credits: balance for %s", userID)
	}
	if balance < m.perMessage {
		return eris.Wrapf(ErrInsufficient, "credits: %s has %d, needs %d", userID, balance, m.perMessage)
	}
	return nil
}

func (m *LedgerMeter) Charge(ctx context.Context, userID string) error {
	if m.perMessage == 0 {
		return nil
	}
	if _, err := m.ledger.ConsumeCredits(ctx, userID, m.perMessage); err != nil {
		if eris.Is(err, store.ErrInsufficientCredits) {
			return eris.Wrapf(ErrInsufficient, "credits: charge %s", userID)
		}
		return eris.Wrapf(err, "credits: charge %s", userID)
	}
	return nil
}

var _ Meter = (*LedgerMeter)(nil)
