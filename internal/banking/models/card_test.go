package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "homebank/pkg/domain-errors"
)

func TestParseCardType(t *testing.T) {
	for _, in := range []string{"DEBIT", "debit", " Debit "} {
		got, err := ParseCardType(in)
		require.NoError(t, err, in)
		assert.Equal(t, CardTypeDebit, got)
	}

	_, err := ParseCardType("PLATINUM")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidArgument))
	assert.Equal(t, "invalid card type: PLATINUM (want one of [DEBIT CREDIT])", dErrors.MessageOf(err))

	_, err = ParseCardType("")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidArgument))
}

func TestParseCardColor(t *testing.T) {
	got, err := ParseCardColor("titanium")
	require.NoError(t, err)
	assert.Equal(t, CardColorTitanium, got)

	_, err = ParseCardColor("BRONZE")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidArgument))
	assert.Equal(t, "invalid card color: BRONZE (want one of [GOLD SILVER TITANIUM])", dErrors.MessageOf(err))
}

func TestCardIsActive(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := &Card{FromDate: from, ThruDate: from.AddDate(5, 0, 0)}

	assert.True(t, c.IsActive(from))
	assert.False(t, c.IsActive(from.Add(-time.Second)))
	assert.False(t, c.IsActive(from.AddDate(5, 0, 0)))
}
