// Package common contains shared constants and sentinel errors used across
// the dashboard collaboration server.
package common

// AccessTokenHeaderName is the gRPC metadata key that may carry the raw
// access token. AuthorizationHeaderName carries it as "Bearer <token>".
const (
	AccessTokenHeaderName   = "access_token"
	AuthorizationHeaderName = "authorization"
)

// IdempotencyKeyHeaderName is the gRPC metadata key holding the client-chosen
// idempotency key of a mutating call.
const IdempotencyKeyHeaderName = "idempotency-key"
