// Package banking exposes client registration and account and card issuance.
package banking

import (
	"log/slog"

	"homebank/internal/banking/handler"
	"homebank/internal/banking/service"
	"homebank/pkg/platform/middleware/auth"
)

// Service exposes client and issuance orchestration.
type Service = service.Service

// Handler wires HTTP endpoints to the banking service.
type Handler = handler.Handler

// NewService constructs the banking service over store.
func NewService(store service.Store, opts ...service.Option) *Service {
	return service.New(store, opts...)
}

// NewHandler constructs the HTTP handler for the /api routes.
func NewHandler(s *Service, validator auth.JWTValidator, logger *slog.Logger, opts ...handler.Option) *Handler {
	return handler.New(s, validator, logger, opts...)
}
