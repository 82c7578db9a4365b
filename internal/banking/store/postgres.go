package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"homebank/internal/banking/models"
	"homebank/internal/banking/service"
	id "homebank/pkg/domain"
	dErrors "homebank/pkg/domain-errors"
	"homebank/pkg/platform/sentinel"
	txcontext "homebank/pkg/platform/tx"
)

//go:embed schema.sql
var schema string

// uniqueViolation is the PostgreSQL SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

// defaultTxTimeout bounds a client transaction when the caller context has
// no deadline.
const defaultTxTimeout = 5 * time.Second

// PostgresStore persists clients and their resources in PostgreSQL.
type PostgresStore struct {
	db        *sql.DB
	txTimeout time.Duration
}

// NewPostgres constructs a PostgreSQL-backed store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, txTimeout: defaultTxTimeout}
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// Ping reports database readiness.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// RunInClientTx runs fn inside a transaction holding a row lock on the
// client, so quota reads and inserts for one client are serialized across
// every process sharing the database.
func (s *PostgresStore) RunInClientTx(ctx context.Context, clientID id.ClientID, fn func(ctx context.Context, store service.Store) error) (err error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return dErrors.Wrap(ctxErr, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.txTimeout)
		defer cancel()
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.txError(ctx, err, "begin transaction")
	}
	defer func() {
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	// A missing client is left for fn to report through its own lookup.
	var locked uuid.UUID
	err = sqlTx.QueryRowContext(ctx, `SELECT id FROM clients WHERE id = $1 FOR UPDATE`, uuid.UUID(clientID)).Scan(&locked)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return s.txError(ctx, err, "lock client")
	}

	if err = fn(txcontext.WithTx(ctx, sqlTx), s); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return s.txError(ctx, err, "commit transaction")
	}
	return nil
}

func (s *PostgresStore) txError(ctx context.Context, err error, op string) error {
	if ctx.Err() != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: "+op)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *PostgresStore) CreateClient(ctx context.Context, client *models.Client) error {
	err := s.insert(ctx, `
		INSERT INTO clients (id, email, first_name, last_name, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.UUID(client.ID), client.Email, client.FirstName, client.LastName, client.PasswordHash, client.CreatedAt,
	)
	if err != nil {
		return wrapWrite(err, "create client")
	}
	return nil
}

const clientColumns = `id, email, first_name, last_name, password_hash, created_at`

func (s *PostgresStore) FindClientByID(ctx context.Context, clientID id.ClientID) (*models.Client, error) {
	q := txcontext.Querier(ctx, s.db)
	client, err := scanClient(q.QueryRowContext(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE id = $1`, uuid.UUID(clientID)))
	if err != nil {
		return nil, err
	}
	if err := s.loadResources(ctx, client); err != nil {
		return nil, err
	}
	return client, nil
}

func (s *PostgresStore) FindClientByEmail(ctx context.Context, email string) (*models.Client, error) {
	q := txcontext.Querier(ctx, s.db)
	client, err := scanClient(q.QueryRowContext(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE lower(email) = lower($1)`, email))
	if err != nil {
		return nil, err
	}
	if err := s.loadResources(ctx, client); err != nil {
		return nil, err
	}
	return client, nil
}

// ListClients returns all clients ordered by registration time.
func (s *PostgresStore) ListClients(ctx context.Context) ([]*models.Client, error) {
	q := txcontext.Querier(ctx, s.db)
	rows, err := q.QueryContext(ctx, `SELECT `+clientColumns+` FROM clients ORDER BY created_at, email`)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	var clients []*models.Client
	for rows.Next() {
		client, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, client)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	for _, client := range clients {
		if err := s.loadResources(ctx, client); err != nil {
			return nil, err
		}
	}
	return clients, nil
}

func (s *PostgresStore) FindAccountByNumber(ctx context.Context, number string) (*models.Account, error) {
	q := txcontext.Querier(ctx, s.db)
	var (
		account  models.Account
		rowID    uuid.UUID
		clientID uuid.UUID
	)
	err := q.QueryRowContext(ctx,
		`SELECT id, client_id, number, balance, created_at FROM accounts WHERE number = $1`, number,
	).Scan(&rowID, &clientID, &account.Number, &account.Balance, &account.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find account by number: %w", err)
	}
	account.ID = id.AccountID(rowID)
	account.ClientID = id.ClientID(clientID)
	return &account, nil
}

func (s *PostgresStore) SaveAccount(ctx context.Context, account *models.Account) error {
	err := s.insert(ctx, `
		INSERT INTO accounts (id, client_id, number, balance, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		uuid.UUID(account.ID), uuid.UUID(account.ClientID), account.Number, account.Balance, account.CreatedAt,
	)
	if err != nil {
		return wrapWrite(err, "save account")
	}
	return nil
}

func (s *PostgresStore) SaveCard(ctx context.Context, card *models.Card) error {
	err := s.insert(ctx, `
		INSERT INTO cards (id, client_id, card_holder, type, color, number, cvv, from_date, thru_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		uuid.UUID(card.ID), uuid.UUID(card.ClientID), card.CardHolder, string(card.Type), string(card.Color),
		card.Number, card.CVV, card.FromDate, card.ThruDate,
	)
	if err != nil {
		return wrapWrite(err, "save card")
	}
	return nil
}

func (s *PostgresStore) ListLoans(ctx context.Context) ([]*models.Loan, error) {
	q := txcontext.Querier(ctx, s.db)
	rows, err := q.QueryContext(ctx, `SELECT id, name, max_amount, payments FROM loans ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list loans: %w", err)
	}
	defer rows.Close()

	var loans []*models.Loan
	for rows.Next() {
		var (
			loan     models.Loan
			rowID    uuid.UUID
			payments []int64
		)
		if err := rows.Scan(&rowID, &loan.Name, &loan.MaxAmount, pq.Array(&payments)); err != nil {
			return nil, fmt.Errorf("scan loan: %w", err)
		}
		loan.ID = id.LoanID(rowID)
		loan.Payments = make([]int, len(payments))
		for i, p := range payments {
			loan.Payments[i] = int(p)
		}
		loans = append(loans, &loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list loans: %w", err)
	}
	return loans, nil
}

// SaveLoan adds a product to the loan catalog.
func (s *PostgresStore) SaveLoan(ctx context.Context, loan *models.Loan) error {
	payments := make([]int64, len(loan.Payments))
	for i, p := range loan.Payments {
		payments[i] = int64(p)
	}
	err := s.insert(ctx, `
		INSERT INTO loans (id, name, max_amount, payments)
		VALUES ($1, $2, $3, $4)`,
		uuid.UUID(loan.ID), loan.Name, loan.MaxAmount, pq.Array(payments),
	)
	if err != nil {
		return wrapWrite(err, "save loan")
	}
	return nil
}

// SaveClientLoan records a client's participation in a catalog loan.
func (s *PostgresStore) SaveClientLoan(ctx context.Context, cl *models.ClientLoan) error {
	err := s.insert(ctx, `
		INSERT INTO client_loans (id, client_id, loan_id, amount, payments)
		VALUES ($1, $2, $3, $4, $5)`,
		uuid.UUID(cl.ID), uuid.UUID(cl.ClientID), uuid.UUID(cl.LoanID), cl.Amount, cl.Payments,
	)
	if err != nil {
		return wrapWrite(err, "save client loan")
	}
	return nil
}

// insert runs a write. Inside a transaction the statement is wrapped in a
// savepoint so a unique violation leaves the transaction usable for a retry.
func (s *PostgresStore) insert(ctx context.Context, query string, args ...any) error {
	sqlTx, ok := txcontext.From(ctx)
	if !ok {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	}
	if _, err := sqlTx.ExecContext(ctx, `SAVEPOINT homebank_insert`); err != nil {
		return err
	}
	if _, err := sqlTx.ExecContext(ctx, query, args...); err != nil {
		if _, rbErr := sqlTx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT homebank_insert`); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	_, err := sqlTx.ExecContext(ctx, `RELEASE SAVEPOINT homebank_insert`)
	return err
}

// loadResources fills accounts, cards and loans. Outside a transaction the
// three queries run concurrently on the pool; a transaction owns a single
// connection, so they run in sequence there.
func (s *PostgresStore) loadResources(ctx context.Context, client *models.Client) error {
	if _, inTx := txcontext.From(ctx); inTx {
		q := txcontext.Querier(ctx, s.db)
		var err error
		if client.Accounts, err = loadAccounts(ctx, q, client.ID); err != nil {
			return err
		}
		if client.Cards, err = loadCards(ctx, q, client.ID); err != nil {
			return err
		}
		client.Loans, err = loadClientLoans(ctx, q, client.ID)
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		accounts, err := loadAccounts(gctx, s.db, client.ID)
		client.Accounts = accounts
		return err
	})
	g.Go(func() error {
		cards, err := loadCards(gctx, s.db, client.ID)
		client.Cards = cards
		return err
	})
	g.Go(func() error {
		loans, err := loadClientLoans(gctx, s.db, client.ID)
		client.Loans = loans
		return err
	})
	return g.Wait()
}

func loadAccounts(ctx context.Context, q txcontext.DBTX, clientID id.ClientID) ([]*models.Account, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, number, balance, created_at FROM accounts WHERE client_id = $1 ORDER BY created_at`,
		uuid.UUID(clientID))
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	defer rows.Close()

	accounts := []*models.Account{}
	for rows.Next() {
		var (
			account models.Account
			rowID   uuid.UUID
		)
		if err := rows.Scan(&rowID, &account.Number, &account.Balance, &account.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		account.ID = id.AccountID(rowID)
		account.ClientID = clientID
		accounts = append(accounts, &account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	return accounts, nil
}

func loadCards(ctx context.Context, q txcontext.DBTX, clientID id.ClientID) ([]*models.Card, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, card_holder, type, color, number, cvv, from_date, thru_date
		FROM cards WHERE client_id = $1 ORDER BY from_date`,
		uuid.UUID(clientID))
	if err != nil {
		return nil, fmt.Errorf("load cards: %w", err)
	}
	defer rows.Close()

	cards := []*models.Card{}
	for rows.Next() {
		var (
			card      models.Card
			rowID     uuid.UUID
			cardType  string
			cardColor string
		)
		if err := rows.Scan(&rowID, &card.CardHolder, &cardType, &cardColor, &card.Number, &card.CVV, &card.FromDate, &card.ThruDate); err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		card.ID = id.CardID(rowID)
		card.ClientID = clientID
		card.Type = models.CardType(cardType)
		card.Color = models.CardColor(cardColor)
		cards = append(cards, &card)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load cards: %w", err)
	}
	return cards, nil
}

func loadClientLoans(ctx context.Context, q txcontext.DBTX, clientID id.ClientID) ([]*models.ClientLoan, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT cl.id, cl.loan_id, l.name, cl.amount, cl.payments
		FROM client_loans cl JOIN loans l ON l.id = cl.loan_id
		WHERE cl.client_id = $1 ORDER BY l.name`,
		uuid.UUID(clientID))
	if err != nil {
		return nil, fmt.Errorf("load client loans: %w", err)
	}
	defer rows.Close()

	loans := []*models.ClientLoan{}
	for rows.Next() {
		var (
			cl     models.ClientLoan
			rowID  uuid.UUID
			loanID uuid.UUID
		)
		if err := rows.Scan(&rowID, &loanID, &cl.Name, &cl.Amount, &cl.Payments); err != nil {
			return nil, fmt.Errorf("scan client loan: %w", err)
		}
		cl.ID = id.ClientLoanID(rowID)
		cl.ClientID = clientID
		cl.LoanID = id.LoanID(loanID)
		loans = append(loans, &cl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load client loans: %w", err)
	}
	return loans, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClient(row rowScanner) (*models.Client, error) {
	var (
		client models.Client
		rowID  uuid.UUID
	)
	err := row.Scan(&rowID, &client.Email, &client.FirstName, &client.LastName, &client.PasswordHash, &client.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan client: %w", err)
	}
	client.ID = id.ClientID(rowID)
	return &client, nil
}

func wrapWrite(err error, op string) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("%s: %w", op, sentinel.ErrConflict)
	}
	var pqErr *pq.Error
	// 23503: the owning client does not exist.
	if errors.As(err, &pqErr) && pqErr.Code == "23503" {
		return fmt.Errorf("%s: %w", op, sentinel.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
