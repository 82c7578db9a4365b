package models

import (
	"time"

	"github.com/shopspring/decimal"

	id "homebank/pkg/domain"
)

// Account is a deposit account owned by one client.
// Number is globally unique; Balance is zero at issuance.
type Account struct {
	ID        id.AccountID    `json:"id"`
	ClientID  id.ClientID     `json:"client_id"`
	Number    string          `json:"number"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewAccount builds a zero-balance account.
func NewAccount(clientID id.ClientID, number string, now time.Time) *Account {
	return &Account{
		ID:        id.NewAccountID(),
		ClientID:  clientID,
		Number:    number,
		Balance:   decimal.Zero,
		CreatedAt: now,
	}
}
