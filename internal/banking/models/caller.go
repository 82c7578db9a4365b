package models

import (
	id "homebank/pkg/domain"
)

// Role is the authorization role of a caller.
type Role string

const (
	RoleClient Role = "client"
	RoleAdmin  Role = "admin"
)

// CallerIdentity is the already-authenticated principal behind a request.
type CallerIdentity struct {
	ClientID id.ClientID
	Email    string
	Role     Role
}

// IsAdmin reports whether the caller holds the admin role.
func (c CallerIdentity) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// Authenticated reports whether the identity refers to a client.
func (c CallerIdentity) Authenticated() bool {
	return !c.ClientID.IsNil()
}
