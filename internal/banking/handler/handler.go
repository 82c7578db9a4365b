package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"homebank/internal/banking/identifier"
	"homebank/internal/banking/models"
	"homebank/internal/banking/service"
	id "homebank/pkg/domain"
	dErrors "homebank/pkg/domain-errors"
	"homebank/pkg/platform/httputil"
	"homebank/pkg/platform/middleware/auth"
	"homebank/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

// Service defines the banking operations exposed over HTTP.
type Service interface {
	RegisterClient(ctx context.Context, req *models.RegisterClientRequest) (*models.Client, error)
	Login(ctx context.Context, req *models.LoginRequest) (*service.LoginResult, error)
	ListClients(ctx context.Context, caller models.CallerIdentity) ([]*models.Client, error)
	GetClient(ctx context.Context, caller models.CallerIdentity, clientID id.ClientID) (*models.Client, error)
	CurrentClient(ctx context.Context, caller models.CallerIdentity) (*models.Client, error)
	IssueAccount(ctx context.Context, caller models.CallerIdentity) (*models.Account, error)
	IssueCard(ctx context.Context, caller models.CallerIdentity, req models.IssueCardRequest) (*models.Card, error)
	ListLoans(ctx context.Context, caller models.CallerIdentity) ([]*models.Loan, error)
}

// Handler wires banking endpoints to the banking service.
type Handler struct {
	service     Service
	logger      *slog.Logger
	validator   auth.JWTValidator
	idempotency func(http.Handler) http.Handler
}

type Option func(*Handler)

// WithIdempotency wraps the issuance endpoints, e.g. with
// idempotency.Middleware.
func WithIdempotency(mw func(http.Handler) http.Handler) Option {
	return func(h *Handler) {
		h.idempotency = mw
	}
}

// New constructs a banking handler with its dependencies.
func New(service Service, validator auth.JWTValidator, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		service:   service,
		logger:    logger,
		validator: validator,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.idempotency == nil {
		h.idempotency = func(next http.Handler) http.Handler { return next }
	}
	return h
}

// Register mounts the banking endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/api/auth/login", h.HandleLogin)
	r.Post("/api/clients", h.HandleRegisterClient)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(h.validator, h.logger))

		r.With(auth.RequireRole(h.logger, auth.RoleAdmin)).Get("/api/clients", h.HandleListClients)
		r.Get("/api/clients/current", h.HandleCurrentClient)
		r.Get("/api/clients/{id}", h.HandleGetClient)
		r.With(h.idempotency).Post("/api/clients/current/accounts", h.HandleIssueAccount)
		r.With(h.idempotency).Post("/api/clients/current/cards", h.HandleIssueCard)
		r.Get("/api/loans", h.HandleListLoans)
	})
}

// HandleLogin handles POST /api/auth/login.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[LoginRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result, err := h.service.Login(ctx, &req.LoginRequest)
	if err != nil {
		h.logFailure(ctx, "login failed", err)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "client logged in",
		"request_id", requestID,
		"client_id", result.Client.ID,
		"role", string(result.Role),
	)
	httputil.WriteJSON(w, http.StatusOK, toTokenResponse(result))
}

// HandleRegisterClient handles POST /api/clients.
func (h *Handler) HandleRegisterClient(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[RegisterClientRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	client, err := h.service.RegisterClient(ctx, &req.RegisterClientRequest)
	if err != nil {
		h.logFailure(ctx, "client registration failed", err)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "client registered",
		"request_id", requestID,
		"client_id", client.ID,
	)
	httputil.WriteJSON(w, http.StatusCreated, toClientResponse(client))
}

// HandleListClients handles GET /api/clients. Admin only.
func (h *Handler) HandleListClients(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clients, err := h.service.ListClients(ctx, callerFrom(ctx))
	if err != nil {
		h.logFailure(ctx, "list clients failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toClientResponses(clients))
}

// HandleGetClient handles GET /api/clients/{id}.
func (h *Handler) HandleGetClient(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientID, err := id.ParseClientID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid client id"))
		return
	}

	client, err := h.service.GetClient(ctx, callerFrom(ctx), clientID)
	if err != nil {
		h.logFailure(ctx, "get client failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toClientResponse(client))
}

// HandleCurrentClient handles GET /api/clients/current.
func (h *Handler) HandleCurrentClient(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	client, err := h.service.CurrentClient(ctx, callerFrom(ctx))
	if err != nil {
		h.logFailure(ctx, "get current client failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toClientResponse(client))
}

// HandleIssueAccount handles POST /api/clients/current/accounts.
func (h *Handler) HandleIssueAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	account, err := h.service.IssueAccount(ctx, callerFrom(ctx))
	if err != nil {
		h.logFailure(ctx, "account issuance failed", err)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "account issued",
		"request_id", requestcontext.RequestID(ctx),
		"client_id", account.ClientID,
		"account_id", account.ID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusCreated, toAccountResponse(account))
}

// HandleIssueCard handles POST /api/clients/current/cards.
func (h *Handler) HandleIssueCard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[IssueCardRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	card, err := h.service.IssueCard(ctx, callerFrom(ctx), req.toModel())
	if err != nil {
		h.logFailure(ctx, "card issuance failed", err)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "card issued",
		"request_id", requestID,
		"client_id", card.ClientID,
		"card_id", card.ID,
		"card_type", string(card.Type),
		"pan_masked", identifier.MaskPAN(card.Number),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusCreated, toIssuedCardResponse(card))
}

// HandleListLoans handles GET /api/loans.
func (h *Handler) HandleListLoans(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	loans, err := h.service.ListLoans(ctx, callerFrom(ctx))
	if err != nil {
		h.logFailure(ctx, "list loans failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toLoanResponses(loans))
}

// logFailure logs client errors at warn and everything else at error.
func (h *Handler) logFailure(ctx context.Context, msg string, err error) {
	level := slog.LevelWarn
	if httputil.StatusFor(dErrors.CodeOf(err)) >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, msg,
		"request_id", requestcontext.RequestID(ctx),
		"client_id", requestcontext.ClientID(ctx),
		"error", err,
	)
}

func callerFrom(ctx context.Context) models.CallerIdentity {
	return models.CallerIdentity{
		ClientID: requestcontext.ClientID(ctx),
		Email:    requestcontext.Email(ctx),
		Role:     models.Role(requestcontext.Role(ctx)),
	}
}
