package models

import (
	"net/mail"
	"strings"
	"time"

	id "homebank/pkg/domain"
	dErrors "homebank/pkg/domain-errors"
)

// Client is the aggregate root for a bank customer.
//
// Invariants:
//   - Email is non-empty, lower-cased and unique across clients
//   - FirstName and LastName are non-empty
//   - PasswordHash is a bcrypt hash and is never serialized
//   - ID, Email and names are immutable after registration
type Client struct {
	ID           id.ClientID   `json:"id"`
	Email        string        `json:"email"`
	FirstName    string        `json:"first_name"`
	LastName     string        `json:"last_name"`
	PasswordHash string        `json:"-"` // Never serialize - contains bcrypt hash
	CreatedAt    time.Time     `json:"created_at"`
	Accounts     []*Account    `json:"accounts"`
	Cards        []*Card       `json:"cards"`
	Loans        []*ClientLoan `json:"loans"`
}

func NewClient(clientID id.ClientID, email, firstName, lastName, passwordHash string, now time.Time) (*Client, error) {
	if email == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "client email cannot be empty")
	}
	if firstName == "" || lastName == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "client name cannot be empty")
	}
	if passwordHash == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "client credential cannot be empty")
	}
	return &Client{
		ID:           clientID,
		Email:        email,
		FirstName:    firstName,
		LastName:     lastName,
		PasswordHash: passwordHash,
		CreatedAt:    now,
	}, nil
}

// FullName is the card holder name printed at issuance.
func (c *Client) FullName() string {
	return c.FirstName + " " + c.LastName
}

// HasCardNumber reports whether any of the client's cards already uses number.
func (c *Client) HasCardNumber(number string) bool {
	for _, card := range c.Cards {
		if card.Number == number {
			return true
		}
	}
	return false
}

// RegisterClientRequest is the input for client registration.
type RegisterClientRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Normalize trims whitespace and lower-cases the email.
func (r *RegisterClientRequest) Normalize() {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.FirstName = strings.TrimSpace(r.FirstName)
	r.LastName = strings.TrimSpace(r.LastName)
}

// Validate checks required fields and sizes. Call Normalize first.
func (r *RegisterClientRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if r.Email == "" || r.Password == "" || r.FirstName == "" || r.LastName == "" {
		return dErrors.New(dErrors.CodeValidation, "email, password, first_name and last_name are required")
	}
	if len(r.Email) > 254 {
		return dErrors.New(dErrors.CodeValidation, "email must be at most 254 characters")
	}
	if addr, err := mail.ParseAddress(r.Email); err != nil || addr.Address != r.Email {
		return dErrors.New(dErrors.CodeValidation, "email is not a valid address")
	}
	if len(r.FirstName) > 100 || len(r.LastName) > 100 {
		return dErrors.New(dErrors.CodeValidation, "names must be at most 100 characters")
	}
	if len(r.Password) < 8 {
		return dErrors.New(dErrors.CodeValidation, "password must be at least 8 characters")
	}
	// bcrypt ignores input past 72 bytes
	if len(r.Password) > 72 {
		return dErrors.New(dErrors.CodeValidation, "password must be at most 72 bytes")
	}
	return nil
}

// LoginRequest carries client credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r *LoginRequest) Normalize() {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
}

func (r *LoginRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if r.Email == "" || r.Password == "" {
		return dErrors.New(dErrors.CodeValidation, "email and password are required")
	}
	return nil
}
