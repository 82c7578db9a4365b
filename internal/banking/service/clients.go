package service

import (
	"context"
	"errors"

	"homebank/internal/audit"
	"homebank/internal/banking/models"
	"homebank/internal/banking/secrets"
	id "homebank/pkg/domain"
	dErrors "homebank/pkg/domain-errors"
	"homebank/pkg/platform/sentinel"
)

// LoginResult is a freshly issued access token.
type LoginResult struct {
	AccessToken string
	ExpiresIn   int64
	Client      *models.Client
	Role        models.Role
}

// RegisterClient creates a client with a bcrypt-hashed password.
// An email already in use is a CodeConflict.
func (s *Service) RegisterClient(ctx context.Context, req *models.RegisterClientRequest) (*models.Client, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if _, err := s.store.FindClientByEmail(ctx, req.Email); err == nil {
		return nil, dErrors.New(dErrors.CodeConflict, "email already in use")
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up client")
	}

	hash, err := secrets.Hash(req.Password)
	if err != nil {
		return nil, asDomainError(err, "failed to hash password")
	}

	// Use constructor which validates invariants
	client, err := models.NewClient(id.NewClientID(), req.Email, req.FirstName, req.LastName, hash, s.now(ctx))
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return nil, dErrors.New(dErrors.CodeValidation, dErrors.MessageOf(err))
		}
		return nil, err
	}

	if err := s.store.CreateClient(ctx, client); err != nil {
		// Lost a race with a concurrent registration of the same email.
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "email already in use")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create client")
	}

	s.logAudit(ctx, audit.ActionClientRegistered, client.ID, client.ID.String())
	if s.metrics != nil {
		s.metrics.IncrementClientsRegistered()
	}
	return client, nil
}

// Login verifies credentials and issues an access token. Unknown emails and
// wrong passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, req *models.LoginRequest) (*LoginResult, error) {
	if s.tokens == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "token issuer not configured")
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	client, err := s.store.FindClientByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up client")
	}
	if err := secrets.Verify(req.Password, client.PasswordHash); err != nil {
		return nil, asDomainError(err, "failed to verify credentials")
	}

	role := s.roleFor(client.Email)
	token, err := s.tokens.GenerateAccessToken(client.ID, client.Email, string(role))
	if err != nil {
		return nil, asDomainError(err, "failed to issue token")
	}
	return &LoginResult{
		AccessToken: token,
		ExpiresIn:   int64(s.tokens.TTL().Seconds()),
		Client:      client,
		Role:        role,
	}, nil
}

// ListClients returns every client with their resources. Admin only.
func (s *Service) ListClients(ctx context.Context, caller models.CallerIdentity) ([]*models.Client, error) {
	if !caller.Authenticated() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if !caller.IsAdmin() {
		return nil, dErrors.New(dErrors.CodeForbidden, "admin role required")
	}
	clients, err := s.store.ListClients(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list clients")
	}
	return clients, nil
}

// GetClient returns one client. Admins may read any client; other callers
// only themselves, and are refused before any lookup.
func (s *Service) GetClient(ctx context.Context, caller models.CallerIdentity, clientID id.ClientID) (*models.Client, error) {
	if !caller.Authenticated() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if !caller.IsAdmin() && caller.ClientID != clientID {
		return nil, dErrors.New(dErrors.CodeForbidden, "not permitted to view this client")
	}
	client, err := s.store.FindClientByID(ctx, clientID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "client not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load client")
	}
	return client, nil
}

// CurrentClient returns the caller's own client record.
func (s *Service) CurrentClient(ctx context.Context, caller models.CallerIdentity) (*models.Client, error) {
	if !caller.Authenticated() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	client, err := s.store.FindClientByID(ctx, caller.ClientID)
	if err != nil {
		return nil, callerLookupError(err)
	}
	return client, nil
}

// ListLoans returns the loan catalog.
func (s *Service) ListLoans(ctx context.Context, caller models.CallerIdentity) ([]*models.Loan, error) {
	if !caller.Authenticated() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	loans, err := s.store.ListLoans(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list loans")
	}
	return loans, nil
}

// callerLookupError maps a failed lookup of the caller's own record. A valid
// token for a client that no longer resolves is refused, not reported missing.
func callerLookupError(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeForbidden, "caller is not a registered client")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load client")
}
