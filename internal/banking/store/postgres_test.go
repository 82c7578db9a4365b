package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homebank/internal/banking/models"
	"homebank/internal/banking/service"
	id "homebank/pkg/domain"
	dErrors "homebank/pkg/domain-errors"
	"homebank/pkg/platform/sentinel"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgres(db), mock
}

func TestPostgresSaveAccountMapsUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO accounts")).
		WillReturnError(&pq.Error{Code: uniqueViolation, Constraint: "accounts_number_key"})

	err := store.SaveAccount(context.Background(), models.NewAccount(id.NewClientID(), "0123456789", time.Now()))
	assert.ErrorIs(t, err, sentinel.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveCardMapsMissingOwner(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO cards")).
		WillReturnError(&pq.Error{Code: "23503"})

	err := store.SaveCard(context.Background(), &models.Card{ID: id.NewCardID(), ClientID: id.NewClientID()})
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFindAccountByNumber(t *testing.T) {
	t.Run("missing number is ErrNotFound", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(regexp.QuoteMeta("FROM accounts WHERE number = $1")).
			WithArgs("0123456789").
			WillReturnError(sql.ErrNoRows)

		_, err := store.FindAccountByNumber(context.Background(), "0123456789")
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("scans the row", func(t *testing.T) {
		store, mock := newMockStore(t)
		accountID, clientID := uuid.New(), uuid.New()
		created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		mock.ExpectQuery(regexp.QuoteMeta("FROM accounts WHERE number = $1")).
			WithArgs("0123456789").
			WillReturnRows(sqlmock.NewRows([]string{"id", "client_id", "number", "balance", "created_at"}).
				AddRow(accountID.String(), clientID.String(), "0123456789", "0.00", created))

		account, err := store.FindAccountByNumber(context.Background(), "0123456789")
		require.NoError(t, err)
		assert.Equal(t, id.AccountID(accountID), account.ID)
		assert.Equal(t, id.ClientID(clientID), account.ClientID)
		assert.True(t, account.Balance.IsZero())
		assert.Equal(t, created, account.CreatedAt)
	})
}

func TestPostgresListLoans(t *testing.T) {
	store, mock := newMockStore(t)
	loanID := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, max_amount, payments FROM loans")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "max_amount", "payments"}).
			AddRow(loanID.String(), "Mortgage", "500000.00", []byte("{12,24,36}")))

	loans, err := store.ListLoans(context.Background())
	require.NoError(t, err)
	require.Len(t, loans, 1)
	assert.Equal(t, "Mortgage", loans[0].Name)
	assert.Equal(t, []int{12, 24, 36}, loans[0].Payments)
	assert.Equal(t, "500000", loans[0].MaxAmount.String())
}

func TestPostgresFindClientByIDLoadsResources(t *testing.T) {
	store, mock := newMockStore(t)
	// Resources load concurrently outside a transaction.
	mock.MatchExpectationsInOrder(false)

	clientID := uuid.New()
	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("FROM clients WHERE id = $1")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "first_name", "last_name", "password_hash", "created_at"}).
			AddRow(clientID.String(), "ada@example.com", "Ada", "Lovelace", "$2a$hash", now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM accounts WHERE client_id = $1")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "number", "balance", "created_at"}).
			AddRow(uuid.NewString(), "0000000001", "0", now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM cards WHERE client_id = $1")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "card_holder", "type", "color", "number", "cvv", "from_date", "thru_date"}).
			AddRow(uuid.NewString(), "Ada Lovelace", "DEBIT", "GOLD", "4517-0000-0000-0001", "007", now, now.AddDate(5, 0, 0)))
	mock.ExpectQuery(regexp.QuoteMeta("FROM client_loans cl JOIN loans l")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "loan_id", "name", "amount", "payments"}))

	client, err := store.FindClientByID(context.Background(), id.ClientID(clientID))
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", client.FullName())
	require.Len(t, client.Accounts, 1)
	require.Len(t, client.Cards, 1)
	assert.Equal(t, models.CardTypeDebit, client.Cards[0].Type)
	assert.Empty(t, client.Loans)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRunInClientTx(t *testing.T) {
	clientID := id.NewClientID()
	lockQuery := regexp.QuoteMeta("SELECT id FROM clients WHERE id = $1 FOR UPDATE")

	t.Run("commits after fn succeeds", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).
			WithArgs(uuid.UUID(clientID)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(uuid.UUID(clientID).String()))
		mock.ExpectExec("SAVEPOINT homebank_insert").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO accounts")).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("RELEASE SAVEPOINT homebank_insert").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		err := store.RunInClientTx(context.Background(), clientID, func(ctx context.Context, s service.Store) error {
			return s.SaveAccount(ctx, models.NewAccount(clientID, "0123456789", time.Now()))
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("conflict rolls back to the savepoint and keeps the transaction", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(uuid.UUID(clientID).String()))
		mock.ExpectExec("SAVEPOINT homebank_insert").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO accounts")).WillReturnError(&pq.Error{Code: uniqueViolation})
		mock.ExpectExec("ROLLBACK TO SAVEPOINT homebank_insert").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("SAVEPOINT homebank_insert").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO accounts")).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("RELEASE SAVEPOINT homebank_insert").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		err := store.RunInClientTx(context.Background(), clientID, func(ctx context.Context, s service.Store) error {
			err := s.SaveAccount(ctx, models.NewAccount(clientID, "0123456789", time.Now()))
			if !errors.Is(err, sentinel.ErrConflict) {
				return errors.New("expected conflict on first save")
			}
			return s.SaveAccount(ctx, models.NewAccount(clientID, "9876543210", time.Now()))
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back when fn fails", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		rejection := dErrors.New(dErrors.CodeQuotaExceeded, "client already has 3 accounts (maximum 3)")
		err := store.RunInClientTx(context.Background(), clientID, func(context.Context, service.Store) error {
			return rejection
		})
		assert.ErrorIs(t, err, rejection)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("cancelled context is a timeout", func(t *testing.T) {
		store, _ := newMockStore(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := store.RunInClientTx(ctx, clientID, func(context.Context, service.Store) error {
			t.Fatal("fn must not run")
			return nil
		})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeTimeout))
	})
}
