package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"homebank/internal/banking/models"
	"homebank/internal/banking/secrets"
	id "homebank/pkg/domain"
	"homebank/pkg/platform/sentinel"
)

// Seeder is the write surface SeedDemo needs. Both stores implement it.
type Seeder interface {
	CreateClient(ctx context.Context, client *models.Client) error
	FindClientByEmail(ctx context.Context, email string) (*models.Client, error)
	ListLoans(ctx context.Context) ([]*models.Loan, error)
	SaveLoan(ctx context.Context, loan *models.Loan) error
	SaveClientLoan(ctx context.Context, cl *models.ClientLoan) error
}

// DemoClientEmail and DemoClientPassword identify the seeded demo client.
const (
	DemoClientEmail    = "melba@homebank.test"
	DemoClientPassword = "melba-demo-pass"
)

// DefaultLoans is the loan catalog every deployment starts with.
func DefaultLoans() []*models.Loan {
	return []*models.Loan{
		{ID: id.NewLoanID(), Name: "Mortgage", MaxAmount: decimal.NewFromInt(500000), Payments: []int{12, 24, 36, 48, 60}},
		{ID: id.NewLoanID(), Name: "Personal", MaxAmount: decimal.NewFromInt(100000), Payments: []int{6, 12, 24}},
		{ID: id.NewLoanID(), Name: "Automotive", MaxAmount: decimal.NewFromInt(300000), Payments: []int{6, 12, 24, 36}},
	}
}

// SeedDemo inserts the loan catalog when it is empty and, when withClient is
// set, a demo client holding one Mortgage participation. It is safe to run on
// every start.
func SeedDemo(ctx context.Context, s Seeder, withClient bool, now time.Time) error {
	loans, err := s.ListLoans(ctx)
	if err != nil {
		return fmt.Errorf("seed: list loans: %w", err)
	}
	if len(loans) == 0 {
		loans = DefaultLoans()
		for _, loan := range loans {
			if err := s.SaveLoan(ctx, loan); err != nil && !errors.Is(err, sentinel.ErrConflict) {
				return fmt.Errorf("seed: save loan %s: %w", loan.Name, err)
			}
		}
	}
	if !withClient {
		return nil
	}

	if _, err := s.FindClientByEmail(ctx, DemoClientEmail); err == nil {
		return nil
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return fmt.Errorf("seed: find demo client: %w", err)
	}

	hash, err := secrets.Hash(DemoClientPassword)
	if err != nil {
		return fmt.Errorf("seed: hash password: %w", err)
	}
	client, err := models.NewClient(id.NewClientID(), DemoClientEmail, "Melba", "Morel", hash, now)
	if err != nil {
		return fmt.Errorf("seed: build demo client: %w", err)
	}
	if err := s.CreateClient(ctx, client); err != nil {
		return fmt.Errorf("seed: create demo client: %w", err)
	}

	mortgage := loans[0]
	for _, loan := range loans {
		if loan.Name == "Mortgage" {
			mortgage = loan
		}
	}
	err = s.SaveClientLoan(ctx, &models.ClientLoan{
		ID:       id.NewClientLoanID(),
		ClientID: client.ID,
		LoanID:   mortgage.ID,
		Name:     mortgage.Name,
		Amount:   decimal.NewFromInt(400000),
		Payments: 60,
	})
	if err != nil {
		return fmt.Errorf("seed: save demo loan: %w", err)
	}
	return nil
}
