package models

import (
	"fmt"
	"slices"
	"strings"
	"time"

	id "homebank/pkg/domain"
	dErrors "homebank/pkg/domain-errors"
)

// CardType is the funding type of a payment card.
type CardType string

const (
	CardTypeDebit  CardType = "DEBIT"
	CardTypeCredit CardType = "CREDIT"
)

// CardColor is the tier of a payment card.
type CardColor string

const (
	CardColorGold     CardColor = "GOLD"
	CardColorSilver   CardColor = "SILVER"
	CardColorTitanium CardColor = "TITANIUM"
)

// CardTypes lists every card type in display order. Parsing accepts only
// these.
var CardTypes = []CardType{CardTypeDebit, CardTypeCredit}

// CardColors lists every card color in display order. Parsing accepts only
// these.
var CardColors = []CardColor{CardColorGold, CardColorSilver, CardColorTitanium}

// ParseCardType parses a card type token case-insensitively.
func ParseCardType(s string) (CardType, error) {
	t := CardType(strings.ToUpper(strings.TrimSpace(s)))
	if slices.Contains(CardTypes, t) {
		return t, nil
	}
	return "", dErrors.New(dErrors.CodeInvalidArgument,
		fmt.Sprintf("invalid card type: %s (want one of %v)", s, CardTypes))
}

// ParseCardColor parses a card color token case-insensitively.
func ParseCardColor(s string) (CardColor, error) {
	c := CardColor(strings.ToUpper(strings.TrimSpace(s)))
	if slices.Contains(CardColors, c) {
		return c, nil
	}
	return "", dErrors.New(dErrors.CodeInvalidArgument,
		fmt.Sprintf("invalid card color: %s (want one of %v)", s, CardColors))
}

// Card is a payment card issued to a client.
//
// Invariants:
//   - Number is unique among the owning client's cards
//   - CardHolder is fixed at issuance and never re-derived from the client
//   - ThruDate is FromDate plus the configured validity
type Card struct {
	ID         id.CardID   `json:"id"`
	ClientID   id.ClientID `json:"client_id"`
	CardHolder string      `json:"card_holder"`
	Type       CardType    `json:"type"`
	Color      CardColor   `json:"color"`
	Number     string      `json:"number"`
	CVV        string      `json:"cvv"`
	FromDate   time.Time   `json:"from_date"`
	ThruDate   time.Time   `json:"thru_date"`
}

// IsActive reports whether the card is inside its validity window [FromDate, ThruDate).
func (c *Card) IsActive(now time.Time) bool {
	return !now.Before(c.FromDate) && now.Before(c.ThruDate)
}

// IssueCardRequest is the raw input for card issuance. Type and Color are
// parsed by the service so invalid tokens fail before any quota check.
type IssueCardRequest struct {
	Type  string `json:"type"`
	Color string `json:"color"`
}
