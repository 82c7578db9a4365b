package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"homebank/internal/banking/models"
	"homebank/internal/banking/service"
)

// TokenResponse is the HTTP response for POST /api/auth/login.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// ClientResponse is the read-side view of a client with everything it owns.
type ClientResponse struct {
	ID        string            `json:"id"`
	Email     string            `json:"email"`
	FirstName string            `json:"first_name"`
	LastName  string            `json:"last_name"`
	Accounts  []AccountResponse `json:"accounts"`
	Cards     []CardResponse    `json:"cards"`
	Credits   []CreditResponse  `json:"credits"`
}

type AccountResponse struct {
	ID        string          `json:"id"`
	Number    string          `json:"number"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
}

// CardResponse omits the CVV; it is only returned once, at issuance.
type CardResponse struct {
	ID         string    `json:"id"`
	CardHolder string    `json:"card_holder"`
	Type       string    `json:"type"`
	Color      string    `json:"color"`
	Number     string    `json:"number"`
	FromDate   time.Time `json:"from_date"`
	ThruDate   time.Time `json:"thru_date"`
}

// IssuedCardResponse is the HTTP response for a newly issued card.
type IssuedCardResponse struct {
	CardResponse
	CVV string `json:"cvv"`
}

type CreditResponse struct {
	ID       string          `json:"id"`
	LoanID   string          `json:"loan_id"`
	Name     string          `json:"name"`
	Amount   decimal.Decimal `json:"amount"`
	Payments int             `json:"payments"`
}

type LoanResponse struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	MaxAmount decimal.Decimal `json:"max_amount"`
	Payments  []int           `json:"payments"`
}

func toTokenResponse(result *service.LoginResult) *TokenResponse {
	return &TokenResponse{
		AccessToken: result.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   result.ExpiresIn,
	}
}

func toClientResponse(c *models.Client) *ClientResponse {
	resp := &ClientResponse{
		ID:        c.ID.String(),
		Email:     c.Email,
		FirstName: c.FirstName,
		LastName:  c.LastName,
		Accounts:  make([]AccountResponse, 0, len(c.Accounts)),
		Cards:     make([]CardResponse, 0, len(c.Cards)),
		Credits:   make([]CreditResponse, 0, len(c.Loans)),
	}
	for _, a := range c.Accounts {
		resp.Accounts = append(resp.Accounts, toAccountResponse(a))
	}
	for _, card := range c.Cards {
		resp.Cards = append(resp.Cards, toCardResponse(card))
	}
	for _, l := range c.Loans {
		resp.Credits = append(resp.Credits, CreditResponse{
			ID:       l.ID.String(),
			LoanID:   l.LoanID.String(),
			Name:     l.Name,
			Amount:   l.Amount,
			Payments: l.Payments,
		})
	}
	return resp
}

func toClientResponses(clients []*models.Client) []*ClientResponse {
	out := make([]*ClientResponse, 0, len(clients))
	for _, c := range clients {
		out = append(out, toClientResponse(c))
	}
	return out
}

func toAccountResponse(a *models.Account) AccountResponse {
	return AccountResponse{
		ID:        a.ID.String(),
		Number:    a.Number,
		Balance:   a.Balance,
		CreatedAt: a.CreatedAt,
	}
}

func toCardResponse(c *models.Card) CardResponse {
	return CardResponse{
		ID:         c.ID.String(),
		CardHolder: c.CardHolder,
		Type:       string(c.Type),
		Color:      string(c.Color),
		Number:     c.Number,
		FromDate:   c.FromDate,
		ThruDate:   c.ThruDate,
	}
}

func toIssuedCardResponse(c *models.Card) *IssuedCardResponse {
	return &IssuedCardResponse{CardResponse: toCardResponse(c), CVV: c.CVV}
}

func toLoanResponses(loans []*models.Loan) []LoanResponse {
	out := make([]LoanResponse, 0, len(loans))
	for _, l := range loans {
		out = append(out, LoanResponse{
			ID:        l.ID.String(),
			Name:      l.Name,
			MaxAmount: l.MaxAmount,
			Payments:  l.Payments,
		})
	}
	return out
}
