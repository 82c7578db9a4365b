package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"homebank/internal/audit"
	"homebank/internal/banking/identifier"
	"homebank/internal/banking/models"
	id "homebank/pkg/domain"
	dErrors "homebank/pkg/domain-errors"
	"homebank/pkg/platform/sentinel"
	"homebank/pkg/requestcontext"
)

const (
	resourceAccount = "account"
	resourceCard    = "card"
)

// IssueAccount opens a zero-balance account for the caller.
//
// The quota check, number resolution and save run inside one per-client
// transaction, so concurrent calls for the same client cannot exceed the
// account quota.
func (s *Service) IssueAccount(ctx context.Context, caller models.CallerIdentity) (*models.Account, error) {
	ctx, span := s.tracer.Start(ctx, "banking.IssueAccount",
		trace.WithAttributes(attribute.String("client_id", caller.ClientID.String())))
	defer span.End()
	start := time.Now()

	if !caller.Authenticated() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}

	var account *models.Account
	err := s.tx.RunInClientTx(ctx, caller.ClientID, func(ctx context.Context, store Store) error {
		client, err := store.FindClientByID(ctx, caller.ClientID)
		if err != nil {
			return callerLookupError(err)
		}
		if err := s.cfg.Quota.CheckAccount(client.Accounts); err != nil {
			return err
		}

		now := s.now(ctx)
		for range maxSaveAttempts {
			number, err := s.resolveAccountNumber(ctx, store)
			if err != nil {
				return err
			}
			account = models.NewAccount(client.ID, number, now)
			err = store.SaveAccount(ctx, account)
			if err == nil {
				return nil
			}
			if !errors.Is(err, sentinel.ErrConflict) {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save account")
			}
			s.logger.WarnContext(ctx, "account number taken at save, regenerating",
				"client_id", client.ID,
				"request_id", requestcontext.RequestID(ctx),
			)
		}
		return dErrors.New(dErrors.CodeInternal, "could not allocate a unique account number")
	})
	if err != nil {
		return nil, s.finishIssuance(span, resourceAccount, err)
	}

	span.SetAttributes(attribute.String("account_id", account.ID.String()))
	s.logAudit(ctx, audit.ActionAccountIssued, caller.ClientID, account.ID.String())
	if s.metrics != nil {
		s.metrics.IncrementAccountsIssued()
		s.metrics.ObserveIssuance(resourceAccount, time.Since(start))
	}
	return account, nil
}

// IssueCard issues a card of the requested type and color to the caller.
// Unknown type or color tokens fail with CodeInvalidArgument before any
// quota is consulted.
func (s *Service) IssueCard(ctx context.Context, caller models.CallerIdentity, req models.IssueCardRequest) (*models.Card, error) {
	ctx, span := s.tracer.Start(ctx, "banking.IssueCard",
		trace.WithAttributes(attribute.String("client_id", caller.ClientID.String())))
	defer span.End()
	start := time.Now()

	if !caller.Authenticated() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}

	cardType, err := models.ParseCardType(req.Type)
	if err != nil {
		return nil, s.finishIssuance(span, resourceCard, err)
	}
	color, err := models.ParseCardColor(req.Color)
	if err != nil {
		return nil, s.finishIssuance(span, resourceCard, err)
	}
	span.SetAttributes(
		attribute.String("card_type", string(cardType)),
		attribute.String("card_color", string(color)),
	)

	var card *models.Card
	err = s.tx.RunInClientTx(ctx, caller.ClientID, func(ctx context.Context, store Store) error {
		client, err := store.FindClientByID(ctx, caller.ClientID)
		if err != nil {
			return callerLookupError(err)
		}
		if err := s.cfg.Quota.CheckCard(client.Cards, cardType, color); err != nil {
			return err
		}

		now := s.now(ctx)
		holder := client.FullName()
		for range maxSaveAttempts {
			number, err := s.resolveCardNumber(ctx, client)
			if err != nil {
				return err
			}
			cvv, err := s.generator.CVV()
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate cvv")
			}
			card = &models.Card{
				ID:         id.NewCardID(),
				ClientID:   client.ID,
				CardHolder: holder,
				Type:       cardType,
				Color:      color,
				Number:     number,
				CVV:        cvv,
				FromDate:   now,
				ThruDate:   now.AddDate(s.cfg.CardValidityYears, 0, 0),
			}
			err = store.SaveCard(ctx, card)
			if err == nil {
				return nil
			}
			if !errors.Is(err, sentinel.ErrConflict) {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save card")
			}
			s.logger.WarnContext(ctx, "card number taken at save, regenerating",
				"client_id", client.ID,
				"pan_masked", identifier.MaskPAN(number),
				"request_id", requestcontext.RequestID(ctx),
			)
			// Keep the losing number out of the next resolution.
			client.Cards = append(client.Cards, &models.Card{Number: number})
		}
		return dErrors.New(dErrors.CodeInternal, "could not allocate a unique card number")
	})
	if err != nil {
		return nil, s.finishIssuance(span, resourceCard, err)
	}

	span.SetAttributes(attribute.String("card_id", card.ID.String()))
	s.logAudit(ctx, audit.ActionCardIssued, caller.ClientID, card.ID.String(),
		"card_type", string(cardType),
		"card_color", string(color),
	)
	if s.metrics != nil {
		s.metrics.IncrementCardsIssued(string(cardType))
		s.metrics.ObserveIssuance(resourceCard, time.Since(start))
	}
	return card, nil
}

func (s *Service) resolveAccountNumber(ctx context.Context, store Store) (string, error) {
	number, attempts, err := s.resolver.Resolve(ctx, s.generator.AccountNumber,
		func(ctx context.Context, candidate string) (bool, error) {
			_, err := store.FindAccountByNumber(ctx, candidate)
			if errors.Is(err, sentinel.ErrNotFound) {
				return false, nil
			}
			return err == nil, err
		})
	if s.metrics != nil {
		s.metrics.ObserveGenerationAttempts(resourceAccount, attempts)
	}
	if err != nil {
		return "", resolveError(err, "account number")
	}
	return number, nil
}

func (s *Service) resolveCardNumber(ctx context.Context, client *models.Client) (string, error) {
	number, attempts, err := s.resolver.Resolve(ctx, s.generator.CardNumber,
		func(_ context.Context, candidate string) (bool, error) {
			return client.HasCardNumber(candidate), nil
		})
	if s.metrics != nil {
		s.metrics.ObserveGenerationAttempts(resourceCard, attempts)
	}
	if err != nil {
		return "", resolveError(err, "card number")
	}
	return number, nil
}

func resolveError(err error, what string) error {
	switch {
	case errors.Is(err, identifier.ErrExhausted):
		return dErrors.Wrap(err, dErrors.CodeInternal, "could not allocate a unique "+what)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeTimeout, what+" generation aborted")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate "+what)
	}
}

// finishIssuance classifies a failed issuance on its span: business
// rejections are counted, everything else is recorded as a span error.
func (s *Service) finishIssuance(span trace.Span, resource string, err error) error {
	err = asDomainError(err, resource+" issuance failed")
	switch dErrors.CodeOf(err) {
	case dErrors.CodeQuotaExceeded, dErrors.CodeDuplicateAttribute, dErrors.CodeInvalidArgument, dErrors.CodeForbidden:
		span.SetAttributes(attribute.String("rejection", string(dErrors.CodeOf(err))))
		s.countRejection(resource, err)
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	}
	return err
}
