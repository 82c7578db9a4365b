package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"homebank/internal/audit"
	"homebank/internal/banking/identifier"
	"homebank/internal/banking/models"
	"homebank/internal/banking/secrets"
	"homebank/internal/banking/service"
	"homebank/internal/banking/store"
	"homebank/internal/platform/metrics"
	id "homebank/pkg/domain"
	dErrors "homebank/pkg/domain-errors"
	"homebank/pkg/platform/sentinel"
	bdd "homebank/pkg/testutil"
)

var issuedAt = time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)

type IssuanceSuite struct {
	suite.Suite
	store     *store.InMemory
	publisher *audit.Publisher
	metrics   *metrics.Metrics
	service   *service.Service
	ctx       context.Context
}

func TestIssuanceSuite(t *testing.T) {
	suite.Run(t, new(IssuanceSuite))
}

func (s *IssuanceSuite) SetupSuite() {
	secrets.Cost = bcrypt.MinCost
}

func (s *IssuanceSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = store.NewInMemory()
	s.publisher = audit.NewPublisher()
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.service = s.newService()
}

func (s *IssuanceSuite) newService(opts ...service.Option) *service.Service {
	base := []service.Option{
		service.WithAuditPublisher(s.publisher),
		service.WithMetrics(s.metrics),
		service.WithClock(func() time.Time { return issuedAt }),
	}
	return service.New(s.store, append(base, opts...)...)
}

func (s *IssuanceSuite) newCaller(email string) models.CallerIdentity {
	client, err := models.NewClient(id.NewClientID(), email, "Ada", "Lovelace", "$2a$hash", issuedAt)
	s.Require().NoError(err)
	s.Require().NoError(s.store.CreateClient(s.ctx, client))
	return models.CallerIdentity{ClientID: client.ID, Email: email, Role: models.RoleClient}
}

func (s *IssuanceSuite) accountsOf(caller models.CallerIdentity) []*models.Account {
	client, err := s.store.FindClientByID(s.ctx, caller.ClientID)
	s.Require().NoError(err)
	return client.Accounts
}

func (s *IssuanceSuite) cardsOf(caller models.CallerIdentity) []*models.Card {
	client, err := s.store.FindClientByID(s.ctx, caller.ClientID)
	s.Require().NoError(err)
	return client.Cards
}

func (s *IssuanceSuite) TestAccountQuota() {
	t := s.T()
	caller := s.newCaller("ada@example.com")

	bdd.Given(t, "a client with no accounts", func(t *testing.T) {
		bdd.When(t, "three accounts are issued in sequence", func(t *testing.T) {
			numbers := map[string]bool{}
			for range 3 {
				account, err := s.service.IssueAccount(s.ctx, caller)
				require.NoError(t, err)
				numbers[account.Number] = true

				assert.Len(t, account.Number, identifier.AccountNumberLength)
				assert.True(t, account.Balance.IsZero())
				assert.Equal(t, issuedAt, account.CreatedAt)
				assert.Equal(t, caller.ClientID, account.ClientID)
			}

			bdd.Then(t, "all succeed with distinct numbers", func(t *testing.T) {
				assert.Len(t, numbers, 3)
				assert.Len(t, s.accountsOf(caller), 3)
			})
		})

		bdd.When(t, "a fourth account is requested", func(t *testing.T) {
			_, err := s.service.IssueAccount(s.ctx, caller)

			bdd.Then(t, "it is rejected and nothing is persisted", func(t *testing.T) {
				require.True(t, dErrors.HasCode(err, dErrors.CodeQuotaExceeded), "got %v", err)
				assert.Len(t, s.accountsOf(caller), 3)
			})
		})
	})

	s.Equal(3.0, testutil.ToFloat64(s.metrics.AccountsIssued))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.IssuanceRejections.WithLabelValues("account", string(dErrors.CodeQuotaExceeded))))
}

func (s *IssuanceSuite) TestCardColorUniqueWithinType() {
	t := s.T()
	caller := s.newCaller("ada@example.com")

	bdd.Given(t, "a client holding a CREDIT GOLD card", func(t *testing.T) {
		card, err := s.service.IssueCard(s.ctx, caller, models.IssueCardRequest{Type: "CREDIT", Color: "GOLD"})
		require.NoError(t, err)
		assert.Equal(t, "Ada Lovelace", card.CardHolder)
		assert.Equal(t, issuedAt, card.FromDate)
		assert.Equal(t, issuedAt.AddDate(5, 0, 0), card.ThruDate)
		assert.True(t, identifier.ValidLuhn(card.Number))
		assert.Len(t, card.CVV, identifier.CVVLength)

		bdd.When(t, "another CREDIT GOLD card is requested", func(t *testing.T) {
			_, err := s.service.IssueCard(s.ctx, caller, models.IssueCardRequest{Type: "CREDIT", Color: "GOLD"})

			bdd.Then(t, "it fails as a duplicate attribute", func(t *testing.T) {
				assert.True(t, dErrors.HasCode(err, dErrors.CodeDuplicateAttribute), "got %v", err)
			})
		})

		bdd.When(t, "a CREDIT SILVER card is requested", func(t *testing.T) {
			silver, err := s.service.IssueCard(s.ctx, caller, models.IssueCardRequest{Type: "credit", Color: "silver"})

			bdd.Then(t, "it succeeds", func(t *testing.T) {
				require.NoError(t, err)
				assert.Equal(t, models.CardTypeCredit, silver.Type)
				assert.Equal(t, models.CardColorSilver, silver.Color)
				assert.NotEqual(t, card.Number, silver.Number)
			})
		})
	})

	s.Len(s.cardsOf(caller), 2)
}

func (s *IssuanceSuite) TestCardQuotaCheckedBeforeColor() {
	t := s.T()
	caller := s.newCaller("ada@example.com")

	bdd.Given(t, "a client with a DEBIT card in every color", func(t *testing.T) {
		for _, color := range models.CardColors {
			_, err := s.service.IssueCard(s.ctx, caller, models.IssueCardRequest{Type: "DEBIT", Color: string(color)})
			require.NoError(t, err)
		}

		bdd.When(t, "a fourth DEBIT card is requested", func(t *testing.T) {
			_, err := s.service.IssueCard(s.ctx, caller, models.IssueCardRequest{Type: "DEBIT", Color: "GOLD"})

			bdd.Then(t, "the type quota wins over the color rule", func(t *testing.T) {
				assert.True(t, dErrors.HasCode(err, dErrors.CodeQuotaExceeded), "got %v", err)
			})
		})

		bdd.And(t, "a CREDIT card is still allowed", func(t *testing.T) {
			_, err := s.service.IssueCard(s.ctx, caller, models.IssueCardRequest{Type: "CREDIT", Color: "GOLD"})
			assert.NoError(t, err)
		})
	})
}

func (s *IssuanceSuite) TestUnknownCardTokens() {
	caller := s.newCaller("ada@example.com")

	for _, req := range []models.IssueCardRequest{
		{Type: "Platinum999", Color: "GOLD"},
		{Type: "DEBIT", Color: "RAINBOW"},
		{Type: "", Color: ""},
	} {
		_, err := s.service.IssueCard(s.ctx, caller, req)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidArgument), "type=%q color=%q: %v", req.Type, req.Color, err)
	}

	s.Run("rejected before the caller record is consulted", func() {
		unknown := models.CallerIdentity{ClientID: id.NewClientID(), Role: models.RoleClient}
		_, err := s.service.IssueCard(s.ctx, unknown, models.IssueCardRequest{Type: "Platinum999", Color: "GOLD"})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidArgument))
	})
	s.Empty(s.cardsOf(caller))
}

func (s *IssuanceSuite) TestCallerChecks() {
	s.Run("anonymous caller is unauthorized", func() {
		_, err := s.service.IssueAccount(s.ctx, models.CallerIdentity{})
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
		_, err = s.service.IssueCard(s.ctx, models.CallerIdentity{}, models.IssueCardRequest{Type: "DEBIT", Color: "GOLD"})
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("unregistered caller is forbidden", func() {
		ghost := models.CallerIdentity{ClientID: id.NewClientID(), Role: models.RoleClient}
		_, err := s.service.IssueAccount(s.ctx, ghost)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
		_, err = s.service.IssueCard(s.ctx, ghost, models.IssueCardRequest{Type: "DEBIT", Color: "GOLD"})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})
}

// TestConcurrentAccountIssuance races one client's requests against the
// per-client serialization.
func (s *IssuanceSuite) TestConcurrentAccountIssuance() {
	caller := s.newCaller("ada@example.com")

	const workers = 20
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.service.IssueAccount(s.ctx, caller)
		}()
	}
	wg.Wait()

	var issued, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			issued++
		case dErrors.HasCode(err, dErrors.CodeQuotaExceeded):
			rejected++
		default:
			s.Failf("unexpected error", "%v", err)
		}
	}
	s.Equal(3, issued)
	s.Equal(17, rejected)
	s.Len(s.accountsOf(caller), 3)
}

func (s *IssuanceSuite) TestConcurrentCardIssuance() {
	caller := s.newCaller("ada@example.com")

	var wg sync.WaitGroup
	errs := make(chan error, 12)
	for range 4 {
		for _, color := range models.CardColors {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.service.IssueCard(s.ctx, caller, models.IssueCardRequest{Type: "DEBIT", Color: string(color)})
				errs <- err
			}()
		}
	}
	wg.Wait()
	close(errs)

	var issued int
	for err := range errs {
		if err == nil {
			issued++
		}
	}
	s.Equal(3, issued)

	cards := s.cardsOf(caller)
	s.Require().Len(cards, 3)
	colors := map[models.CardColor]bool{}
	for _, c := range cards {
		colors[c.Color] = true
	}
	s.Len(colors, 3)
}

// zeroEntropy makes every generated identifier identical.
type zeroEntropy struct{}

func (zeroEntropy) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

func (s *IssuanceSuite) TestIdentifierSpaceExhaustion() {
	cfg := service.DefaultConfig()
	cfg.MaxAttempts = 5
	svc := s.newService(
		service.WithConfig(cfg),
		service.WithGenerator(identifier.NewGenerator(identifier.WithEntropy(zeroEntropy{}))),
	)

	s.Run("account numbers collide globally", func() {
		first := s.newCaller("first@example.com")
		second := s.newCaller("second@example.com")

		_, err := svc.IssueAccount(s.ctx, first)
		s.Require().NoError(err)

		_, err = svc.IssueAccount(s.ctx, second)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal), "got %v", err)
		s.Empty(s.accountsOf(second))
	})

	s.Run("card numbers collide per client", func() {
		caller := s.newCaller("cards@example.com")
		other := s.newCaller("other-cards@example.com")

		_, err := svc.IssueCard(s.ctx, caller, models.IssueCardRequest{Type: "DEBIT", Color: "GOLD"})
		s.Require().NoError(err)

		_, err = svc.IssueCard(s.ctx, caller, models.IssueCardRequest{Type: "DEBIT", Color: "SILVER"})
		s.True(dErrors.HasCode(err, dErrors.CodeInternal), "got %v", err)

		_, err = svc.IssueCard(s.ctx, other, models.IssueCardRequest{Type: "DEBIT", Color: "GOLD"})
		s.NoError(err, "the same number is free for another client")
	})
}

// conflictingStore rejects saves with ErrConflict, as a unique constraint
// would when another writer took the number first. A negative budget
// rejects every save.
type conflictingStore struct {
	*store.InMemory
	accountConflicts int
	cardConflicts    int
	accountNumbers   []string
	cardNumbers      []string
}

func (c *conflictingStore) SaveAccount(ctx context.Context, account *models.Account) error {
	c.accountNumbers = append(c.accountNumbers, account.Number)
	if c.accountConflicts != 0 {
		c.accountConflicts--
		return sentinel.ErrConflict
	}
	return c.InMemory.SaveAccount(ctx, account)
}

func (c *conflictingStore) SaveCard(ctx context.Context, card *models.Card) error {
	c.cardNumbers = append(c.cardNumbers, card.Number)
	if c.cardConflicts != 0 {
		c.cardConflicts--
		return sentinel.ErrConflict
	}
	return c.InMemory.SaveCard(ctx, card)
}

func (s *IssuanceSuite) newConflictingService(st *conflictingStore, opts ...service.Option) *service.Service {
	base := []service.Option{
		service.WithMetrics(s.metrics),
		service.WithClock(func() time.Time { return issuedAt }),
	}
	return service.New(st, append(base, opts...)...)
}

func (s *IssuanceSuite) TestSaveConflictRegenerates() {
	t := s.T()

	bdd.Given(t, "a store that loses the first save to a concurrent writer", func(t *testing.T) {
		bdd.When(t, "an account is issued", func(t *testing.T) {
			st := &conflictingStore{InMemory: s.store, accountConflicts: 1}
			caller := s.newCaller("account-retry@example.com")

			account, err := s.newConflictingService(st).IssueAccount(s.ctx, caller)

			bdd.Then(t, "the second save succeeds with the regenerated number", func(t *testing.T) {
				require.NoError(t, err)
				require.Len(t, st.accountNumbers, 2)
				assert.Equal(t, st.accountNumbers[1], account.Number)
				accounts := s.accountsOf(caller)
				require.Len(t, accounts, 1)
				assert.Equal(t, account.Number, accounts[0].Number)
			})
		})

		bdd.When(t, "a card is issued", func(t *testing.T) {
			st := &conflictingStore{InMemory: s.store, cardConflicts: 1}
			caller := s.newCaller("card-retry@example.com")

			card, err := s.newConflictingService(st).IssueCard(s.ctx, caller, models.IssueCardRequest{Type: "DEBIT", Color: "GOLD"})

			bdd.Then(t, "the losing number is not offered again", func(t *testing.T) {
				require.NoError(t, err)
				require.Len(t, st.cardNumbers, 2)
				assert.NotEqual(t, st.cardNumbers[0], card.Number)
				assert.Equal(t, st.cardNumbers[1], card.Number)
				assert.Len(t, s.cardsOf(caller), 1)
			})
		})
	})

	bdd.Given(t, "a store where every save conflicts", func(t *testing.T) {
		st := &conflictingStore{InMemory: s.store, accountConflicts: -1, cardConflicts: -1}
		svc := s.newConflictingService(st)
		caller := s.newCaller("always-conflict@example.com")

		bdd.When(t, "an account is issued", func(t *testing.T) {
			_, err := svc.IssueAccount(s.ctx, caller)

			bdd.Then(t, "it gives up after five saves with an internal failure", func(t *testing.T) {
				assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal), "got %v", err)
				assert.Len(t, st.accountNumbers, 5)
				assert.Empty(t, s.accountsOf(caller))
			})
		})

		bdd.When(t, "a card is issued", func(t *testing.T) {
			_, err := svc.IssueCard(s.ctx, caller, models.IssueCardRequest{Type: "CREDIT", Color: "SILVER"})

			bdd.Then(t, "it gives up after five saves with an internal failure", func(t *testing.T) {
				assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal), "got %v", err)
				assert.Len(t, st.cardNumbers, 5)
				assert.Empty(t, s.cardsOf(caller))
			})
		})
	})

	bdd.Given(t, "a generator that can only produce one card number", func(t *testing.T) {
		cfg := service.DefaultConfig()
		cfg.MaxAttempts = 5
		st := &conflictingStore{InMemory: s.store, cardConflicts: 1}
		svc := s.newConflictingService(st,
			service.WithConfig(cfg),
			service.WithGenerator(identifier.NewGenerator(identifier.WithEntropy(zeroEntropy{}))),
		)
		caller := s.newCaller("single-number@example.com")

		bdd.When(t, "its only number loses the save", func(t *testing.T) {
			_, err := svc.IssueCard(s.ctx, caller, models.IssueCardRequest{Type: "DEBIT", Color: "GOLD"})

			bdd.Then(t, "resolution treats it as taken and fails", func(t *testing.T) {
				assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal), "got %v", err)
				assert.Len(t, st.cardNumbers, 1)
				assert.Empty(t, s.cardsOf(caller))
			})
		})
	})
}

func (s *IssuanceSuite) TestAuditEvents() {
	caller := s.newCaller("ada@example.com")

	account, err := s.service.IssueAccount(s.ctx, caller)
	s.Require().NoError(err)
	card, err := s.service.IssueCard(s.ctx, caller, models.IssueCardRequest{Type: "DEBIT", Color: "GOLD"})
	s.Require().NoError(err)

	first := <-s.publisher.Inbox()
	s.Equal(audit.ActionAccountIssued, first.Action)
	s.Equal(account.ID.String(), first.ResourceID)
	s.Equal(caller.ClientID.String(), first.ClientID)
	s.Equal(issuedAt, first.Timestamp)

	second := <-s.publisher.Inbox()
	s.Equal(audit.ActionCardIssued, second.Action)
	s.Equal(card.ID.String(), second.ResourceID)
}

func (s *IssuanceSuite) TestIssuanceAfterAuditShutdown() {
	caller := s.newCaller("late@example.com")
	s.publisher.Close()

	account, err := s.service.IssueAccount(s.ctx, caller)
	s.Require().NoError(err, "a closed audit trail must not fail a persisted issuance")
	s.Require().Len(s.accountsOf(caller), 1)
	s.Equal(account.Number, s.accountsOf(caller)[0].Number)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.AuditPublishFailure))
}

func (s *IssuanceSuite) TestCancelledContext() {
	caller := s.newCaller("ada@example.com")
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	_, err := s.service.IssueAccount(ctx, caller)
	s.True(dErrors.HasCode(err, dErrors.CodeTimeout), "got %v", err)
	s.Empty(s.accountsOf(caller))
}
