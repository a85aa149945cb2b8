package authservice

import (
	"context"
	"fmt"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/EM-ade/realmkin-sub000/internal/domain"
	"github.com/EM-ade/realmkin-sub000/pkg/config"
)

type AuthService struct {
	config *config.Config
	logger zerolog.Logger
}

func NewAuthService(config *config.Config, logger zerolog.Logger) IAuthService {
	return &AuthService{
		config: config,
		logger: logger.With().Str("component", "auth").Logger(),
	}
}

func (s *AuthService) VerifyToken(ctx context.Context, tokenString string) (*domain.AuthClaims, error) {
	jwtSecret := s.config.JWT.Secret
	if jwtSecret == "" {
		s.logger.Error().Msg("JWT secret not configured")
		return nil, domain.ErrUnauthenticated
	}

	token, err := jwt.ParseWithClaims(tokenString, &domain.AuthClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(jwtSecret), nil
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to parse token")
		return nil, domain.ErrUnauthenticated
	}
	if !token.Valid {
		return nil, domain.ErrUnauthenticated
	}

	claims, ok := token.Claims.(*domain.AuthClaims)
	if !ok {
		return nil, domain.ErrUnauthenticated
	}
	if claims.ExpiresAt < time.Now().Unix() {
		return nil, domain.ErrUnauthenticated
	}
	if claims.Issuer != s.config.JWT.Issuer {
		s.logger.Warn().Str("issuer", claims.Issuer).Msg("Token has wrong issuer")
		return nil, domain.ErrUnauthenticated
	}
	if claims.UserID == uuid.Nil {
		return nil, domain.ErrUnauthenticated
	}

	return claims, nil
}

func (s *AuthService) GenerateToken(ctx context.Context, userID uuid.UUID, walletAddress string, isVerified bool) (string, error) {
	jwtSecret := s.config.JWT.Secret
	if jwtSecret == "" {
		return "", fmt.Errorf("JWT secret not configured")
	}

	now := time.Now()
	claims := &domain.AuthClaims{
		UserID:        userID,
		WalletAddress: walletAddress,
		IsVerified:    isVerified,
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: now.Add(24 * time.Hour).Unix(),
			IssuedAt:  now.Unix(),
			Issuer:    s.config.JWT.Issuer,
			Subject:   userID.String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(jwtSecret))
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID.String()).Msg("Failed to sign token")
		return "", fmt.Errorf("failed to sign token: %v", err)
	}
	return tokenString, nil
}
