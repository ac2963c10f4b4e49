package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"catalogsync/internal/dto/resp"
	"catalogsync/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	RedisSessionPrefix = "catalogsync:auth:session:"
	Issuer             = "catalogsync"
	RoleClient         = "client"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenInvalid       = errors.New("token invalid")
	ErrSessionExpired     = errors.New("session expired")
)

type UserClaims struct {
	UserID   string `json:"uid"`
	Username string `json:"sub"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// AuthService exchanges API keys for short-lived access tokens. Refresh
// tokens are allow-listed in Redis, one live session per client.
type AuthService struct {
	clients         repository.APIKeyRepository
	redis           redis.UniversalClient
	signingKey      []byte
	accessTokenTTL  time.Duration
	refreshTokenTTL time.Duration
}

func NewAuthService(clients repository.APIKeyRepository, rdb redis.UniversalClient, signingKey []byte, accessTokenTTL, refreshTokenTTL time.Duration) *AuthService {
	return &AuthService{
		clients:         clients,
		redis:           rdb,
		signingKey:      signingKey,
		accessTokenTTL:  accessTokenTTL,
		refreshTokenTTL: refreshTokenTTL,
	}
}

func (s *AuthService) SigningKey() []byte { return s.signingKey }

// Token authenticates an API key and returns a token pair.
func (s *AuthService) Token(ctx context.Context, apiKey string) (*resp.TokenResp, error) {
	client, err := s.clients.ValidateAPIKey(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, ErrInvalidCredentials
	}

	userID := fmt.Sprintf("client-%d", client.ID)
	tokens, err := s.generateTokens(ctx, userID, client.AppID, RoleClient)
	if err != nil {
		return nil, err
	}
	tokens.Client = resp.ClientInfo{ID: userID, AppID: client.AppID, Role: RoleClient}
	return tokens, nil
}

// Refresh rotates a token pair using the current refresh token.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*resp.TokenResp, error) {
	claims, err := s.Parse(refreshToken)
	if err != nil {
		return nil, err
	}

	stored, err := s.redis.Get(ctx, RedisSessionPrefix+claims.UserID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionExpired
	}
	if err != nil {
		return nil, err
	}
	if stored != refreshToken {
		return nil, ErrTokenInvalid
	}

	return s.generateTokens(ctx, claims.UserID, claims.Username, claims.Role)
}

func (s *AuthService) Logout(ctx context.Context, userID string) error {
	return s.redis.Del(ctx, RedisSessionPrefix+userID).Err()
}

// Parse validates a token signed by this service.
func (s *AuthService) Parse(tokenString string) (*UserClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &UserClaims{}, func(t *jwt.Token) (any, error) {
		return s.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, ErrTokenInvalid
	}
	claims, ok := token.Claims.(*UserClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func (s *AuthService) generateTokens(ctx context.Context, userID, username, role string) (*resp.TokenResp, error) {
	now := time.Now()
	sign := func(ttl time.Duration, jti string) (string, error) {
		claims := UserClaims{
			UserID:   userID,
			Username: username,
			Role:     role,
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
				IssuedAt:  jwt.NewNumericDate(now),
				NotBefore: jwt.NewNumericDate(now),
				Issuer:    Issuer,
				ID:        jti,
			},
		}
		return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	}

	accessToken, err := sign(s.accessTokenTTL, "")
	if err != nil {
		return nil, err
	}
	refreshToken, err := sign(s.refreshTokenTTL, uuid.NewString())
	if err != nil {
		return nil, err
	}

	if err := s.redis.Set(ctx, RedisSessionPrefix+userID, refreshToken, s.refreshTokenTTL).Err(); err != nil {
		return nil, err
	}

	return &resp.TokenResp{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.accessTokenTTL.Seconds()),
	}, nil
}
