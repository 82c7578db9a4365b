package handler

import (
	"homebank/internal/banking/models"
	dErrors "homebank/pkg/domain-errors"
)

// RegisterClientRequest is the HTTP request body for POST /api/clients.
type RegisterClientRequest struct {
	models.RegisterClientRequest
}

// Validate normalizes and validates the request.
// Implements the Validatable interface for httputil.DecodeAndPrepare.
func (r *RegisterClientRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Normalize()
	return r.RegisterClientRequest.Validate()
}

// LoginRequest is the HTTP request body for POST /api/auth/login.
type LoginRequest struct {
	models.LoginRequest
}

func (r *LoginRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Normalize()
	return r.LoginRequest.Validate()
}

// maxTokenLen bounds the type and color tokens before parsing.
const maxTokenLen = 32

// IssueCardRequest is the HTTP request body for POST /api/clients/current/cards.
// Token parsing is left to the service so that unknown values are reported
// as invalid arguments, ahead of any quota check.
type IssueCardRequest struct {
	Type  string `json:"type"`
	Color string `json:"color"`
}

func (r *IssueCardRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	// Size validation (fail fast)
	if len(r.Type) > maxTokenLen || len(r.Color) > maxTokenLen {
		return dErrors.New(dErrors.CodeValidation, "type and color must be at most 32 characters")
	}
	return nil
}

func (r *IssueCardRequest) toModel() models.IssueCardRequest {
	return models.IssueCardRequest{Type: r.Type, Color: r.Color}
}
