package domain

import (
	"github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"
)

// AuthClaims is the JWT payload. The UserID claim is the sole source of
// owner identity for every settlement operation.
type AuthClaims struct {
	UserID        uuid.UUID `json:"user_id"`
	WalletAddress string    `json:"wallet_address,omitempty"`
	IsVerified    bool      `json:"is_verified"`
	jwt.StandardClaims
}
