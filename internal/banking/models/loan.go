package models

import (
	"github.com/shopspring/decimal"

	id "homebank/pkg/domain"
)

// Loan is a product in the loan catalog.
type Loan struct {
	ID        id.LoanID       `json:"id"`
	Name      string          `json:"name"`
	MaxAmount decimal.Decimal `json:"max_amount"`
	Payments  []int           `json:"payments"`
}

// ClientLoan is a client's participation in a loan. Read-only here.
type ClientLoan struct {
	ID       id.ClientLoanID `json:"id"`
	ClientID id.ClientID     `json:"client_id"`
	LoanID   id.LoanID       `json:"loan_id"`
	Name     string          `json:"name"`
	Amount   decimal.Decimal `json:"amount"`
	Payments int             `json:"payments"`
}
