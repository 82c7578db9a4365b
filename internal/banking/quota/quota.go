// Package quota enforces per-client issuance limits. Checks are pure
// functions over already-loaded resources; callers serialize per client.
package quota

import (
	"fmt"

	"homebank/internal/banking/models"
	dErrors "homebank/pkg/domain-errors"
)

const (
	DefaultMaxAccounts     = 3
	DefaultMaxCardsPerType = 3
)

// Policy holds the configured limits.
type Policy struct {
	MaxAccounts     int
	MaxCardsPerType int
}

// DefaultPolicy is three accounts per client and three cards per type.
func DefaultPolicy() Policy {
	return Policy{MaxAccounts: DefaultMaxAccounts, MaxCardsPerType: DefaultMaxCardsPerType}
}

// CheckAccount returns CodeQuotaExceeded when the client already holds the
// maximum number of accounts.
func (p Policy) CheckAccount(accounts []*models.Account) error {
	if len(accounts) >= p.MaxAccounts {
		return dErrors.New(dErrors.CodeQuotaExceeded,
			fmt.Sprintf("client already has %d accounts (maximum %d)", len(accounts), p.MaxAccounts))
	}
	return nil
}

// CheckCard validates a new card of cardType and color against the client's
// existing cards. The per-type count is checked before color uniqueness.
func (p Policy) CheckCard(cards []*models.Card, cardType models.CardType, color models.CardColor) error {
	var sameType int
	colorTaken := false
	for _, c := range cards {
		if c.Type != cardType {
			continue
		}
		sameType++
		if c.Color == color {
			colorTaken = true
		}
	}
	if sameType >= p.MaxCardsPerType {
		return dErrors.New(dErrors.CodeQuotaExceeded,
			fmt.Sprintf("client already has %d %s cards (maximum %d)", sameType, cardType, p.MaxCardsPerType))
	}
	if colorTaken {
		return dErrors.New(dErrors.CodeDuplicateAttribute,
			fmt.Sprintf("client already has a %s %s card", color, cardType))
	}
	return nil
}
