package domain

import (
	"github.com/google/uuid"

	dErrors "homebank/pkg/domain-errors"
)

// Typed identifiers keep client, account, card and loan IDs from being mixed
// up at compile time. Construct them with the Parse* functions at trust
// boundaries; New* generate fresh random IDs.
type (
	ClientID     uuid.UUID
	AccountID    uuid.UUID
	CardID       uuid.UUID
	LoanID       uuid.UUID
	ClientLoanID uuid.UUID
)

func NewClientID() ClientID         { return ClientID(uuid.New()) }
func NewAccountID() AccountID       { return AccountID(uuid.New()) }
func NewCardID() CardID             { return CardID(uuid.New()) }
func NewLoanID() LoanID             { return LoanID(uuid.New()) }
func NewClientLoanID() ClientLoanID { return ClientLoanID(uuid.New()) }

func (id ClientID) String() string     { return uuid.UUID(id).String() }
func (id AccountID) String() string    { return uuid.UUID(id).String() }
func (id CardID) String() string       { return uuid.UUID(id).String() }
func (id LoanID) String() string       { return uuid.UUID(id).String() }
func (id ClientLoanID) String() string { return uuid.UUID(id).String() }

func (id ClientID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

func (id ClientID) MarshalText() ([]byte, error)     { return uuid.UUID(id).MarshalText() }
func (id AccountID) MarshalText() ([]byte, error)    { return uuid.UUID(id).MarshalText() }
func (id CardID) MarshalText() ([]byte, error)       { return uuid.UUID(id).MarshalText() }
func (id LoanID) MarshalText() ([]byte, error)       { return uuid.UUID(id).MarshalText() }
func (id ClientLoanID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *ClientID) UnmarshalText(b []byte) error     { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *AccountID) UnmarshalText(b []byte) error    { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *CardID) UnmarshalText(b []byte) error       { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *LoanID) UnmarshalText(b []byte) error       { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *ClientLoanID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }

// ParseClientID parses external input into a ClientID.
//
// Errors: CodeInvalidArgument when the value is empty, malformed, or the nil UUID.
func ParseClientID(s string) (ClientID, error) {
	u, err := parseUUID(s, "client id")
	return ClientID(u), err
}

// ParseLoanID parses external input into a LoanID.
func ParseLoanID(s string) (LoanID, error) {
	u, err := parseUUID(s, "loan id")
	return LoanID(u), err
}

func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidArgument, label+" cannot be empty")
	}
	// uuid.Parse accepts several encodings; anything longer than the braced
	// form is noise.
	if len(s) > 38 {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidArgument, "invalid "+label)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidArgument, "invalid "+label)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidArgument, label+" cannot be nil")
	}
	return u, nil
}
