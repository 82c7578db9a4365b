package service

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"homebank/internal/audit"
	"homebank/internal/banking/identifier"
	"homebank/internal/banking/models"
	"homebank/internal/banking/quota"
	"homebank/internal/platform/metrics"
	id "homebank/pkg/domain"
	dErrors "homebank/pkg/domain-errors"
	hbstrings "homebank/pkg/platform/strings"
	"homebank/pkg/requestcontext"
)

// Store is the persistence collaborator. Implementations return
// sentinel.ErrNotFound for missing rows and sentinel.ErrConflict when a
// unique constraint (email, account number, per-client card number) rejects
// a write.
type Store interface {
	CreateClient(ctx context.Context, client *models.Client) error
	// FindClientByID returns the client with accounts, cards and loans loaded.
	FindClientByID(ctx context.Context, clientID id.ClientID) (*models.Client, error)
	FindClientByEmail(ctx context.Context, email string) (*models.Client, error)
	ListClients(ctx context.Context) ([]*models.Client, error)
	FindAccountByNumber(ctx context.Context, number string) (*models.Account, error)
	SaveAccount(ctx context.Context, account *models.Account) error
	SaveCard(ctx context.Context, card *models.Card) error
	ListLoans(ctx context.Context) ([]*models.Loan, error)
}

// StoreTx serializes work for one client. fn receives a context and store
// bound to the transaction; everything fn reads and writes is atomic with
// respect to other calls for the same client.
type StoreTx interface {
	RunInClientTx(ctx context.Context, clientID id.ClientID, fn func(ctx context.Context, store Store) error) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// TokenIssuer signs access tokens for authenticated clients.
type TokenIssuer interface {
	GenerateAccessToken(clientID id.ClientID, email, role string) (string, error)
	TTL() time.Duration
}

// Config holds the issuance rules.
type Config struct {
	Quota             quota.Policy
	CardValidityYears int
	MaxAttempts       int
	CardBIN           string
	AdminEmails       []string
}

// DefaultConfig matches the product rules: 3 accounts, 3 cards per type,
// 5-year card validity and 1000 generation attempts.
func DefaultConfig() Config {
	return Config{
		Quota:             quota.DefaultPolicy(),
		CardValidityYears: 5,
		MaxAttempts:       identifier.DefaultMaxAttempts,
	}
}

// maxSaveAttempts bounds regenerate-and-save loops when the storage unique
// constraint rejects a candidate that looked free.
const maxSaveAttempts = 5

// Service orchestrates client registration and resource issuance.
type Service struct {
	store          Store
	tx             StoreTx
	tokens         TokenIssuer
	generator      *identifier.Generator
	resolver       *identifier.Resolver
	cfg            Config
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
	tracer         trace.Tracer
	clock          func() time.Time
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithTx replaces the default in-process sharded lock, e.g. with a
// database-backed transaction.
func WithTx(tx StoreTx) Option {
	return func(s *Service) {
		s.tx = tx
	}
}

func WithTokenIssuer(tokens TokenIssuer) Option {
	return func(s *Service) {
		s.tokens = tokens
	}
}

func WithGenerator(g *identifier.Generator) Option {
	return func(s *Service) {
		s.generator = g
	}
}

func WithConfig(cfg Config) Option {
	return func(s *Service) {
		s.cfg = cfg
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

// WithClock overrides the request-scoped time source.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		s.clock = clock
	}
}

// New constructs a Service.
func New(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		cfg:    DefaultConfig(),
		logger: slog.Default(),
		tracer: otel.Tracer("homebank/banking"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tx == nil {
		s.tx = NewShardedTx(store)
	}
	if s.generator == nil {
		s.generator = identifier.NewGenerator(identifier.WithBIN(s.cfg.CardBIN))
	}
	s.resolver = identifier.NewResolver(s.cfg.MaxAttempts)
	s.cfg.AdminEmails = hbstrings.Dedupe(s.cfg.AdminEmails, true)
	return s
}

func (s *Service) now(ctx context.Context) time.Time {
	if s.clock != nil {
		return s.clock()
	}
	return requestcontext.Now(ctx)
}

func (s *Service) roleFor(email string) models.Role {
	if slices.Contains(s.cfg.AdminEmails, strings.ToLower(email)) {
		return models.RoleAdmin
	}
	return models.RoleClient
}

// asDomainError keeps coded errors as they are and wraps everything else as
// an opaque internal failure.
func asDomainError(err error, msg string) error {
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}

func (s *Service) logAudit(ctx context.Context, event audit.Action, clientID id.ClientID, resourceID string, attributes ...any) {
	requestID := requestcontext.RequestID(ctx)
	args := append(attributes,
		"client_id", clientID,
		"resource_id", resourceID,
		"request_id", requestID,
		"event", string(event),
		"log_type", "audit",
	)
	s.logger.InfoContext(ctx, string(event), args...)
	if s.auditPublisher == nil {
		return
	}
	err := s.auditPublisher.Emit(ctx, audit.Event{
		Action:     event,
		ClientID:   clientID.String(),
		ResourceID: resourceID,
		RequestID:  requestID,
		Timestamp:  s.now(ctx),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to publish audit event",
			"event", string(event),
			"request_id", requestID,
			"error", err,
		)
		if s.metrics != nil {
			s.metrics.IncrementAuditFailures()
		}
	}
}

// countRejection records an expected business rejection. Request outcomes
// are logged once, by the transport.
func (s *Service) countRejection(resource string, err error) {
	if s.metrics != nil {
		s.metrics.IncrementRejection(resource, string(dErrors.CodeOf(err)))
	}
}
