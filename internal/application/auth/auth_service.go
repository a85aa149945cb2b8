package authservice

import (
	"context"

	"github.com/google/uuid"

	"github.com/EM-ade/realmkin-sub000/internal/domain"
)

type IAuthService interface {
	VerifyToken(ctx context.Context, tokenString string) (*domain.AuthClaims, error)
	GenerateToken(ctx context.Context, userID uuid.UUID, walletAddress string, isVerified bool) (string, error)
}
