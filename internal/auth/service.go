// Package auth implements registration, login, and stateless session
// verification on top of the credential store.
package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/quietline/quietline/internal/database"
	"github.com/quietline/quietline/internal/errors"
	"github.com/quietline/quietline/internal/logging"
)

// Claims is the session payload: the subject ID and email of the holder.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Profile carries optional registration extras. Stored as given.
type Profile struct {
	Name     string
	Age      *int
	Gender   *string
	Location *string
}

// Service provides registration, login, and token verification. Sessions
// are signed HS256 claims with a fixed TTL and no server-side revocation.
type Service struct {
	repo       database.Repository
	secret     []byte
	ttl        time.Duration
	bcryptCost int
	logger     *logging.Logger
}

// NewService creates an auth service over the given credential store.
func NewService(repo database.Repository, secret string, ttl time.Duration, bcryptCost int, logger *logging.Logger) *Service {
	if bcryptCost < 10 {
		bcryptCost = 10
	}
	return &Service{
		repo:       repo,
		secret:     []byte(secret),
		ttl:        ttl,
		bcryptCost: bcryptCost,
		logger:     logger,
	}
}

// NormalizeEmail trims whitespace and lowercases the address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates an account and returns a freshly minted session token.
// The email is rejected with EMAIL_TAKEN when any reachable store already
// holds it.
func (s *Service) Register(ctx context.Context, email, password string, profile Profile) (string, error) {
	normalized := NormalizeEmail(email)

	if _, err := s.repo.GetUserByEmail(ctx, normalized); err == nil {
		return "", errors.EmailTaken()
	} else if err != database.ErrNotFound {
		return "", errors.Internal("Registration failed", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return "", errors.Internal("Registration failed", err)
	}

	name := strings.TrimSpace(profile.Name)
	if name == "" {
		name = displayNameFromEmail(normalized)
	}

	now := time.Now()
	user := &database.User{
		ID:           uuid.New().String(),
		Email:        normalized,
		PasswordHash: string(hash),
		DisplayName:  name,
		Age:          profile.Age,
		Gender:       profile.Gender,
		Location:     profile.Location,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.repo.CreateUser(ctx, user); err != nil {
		if err == database.ErrEmailTaken {
			return "", errors.EmailTaken()
		}
		return "", errors.Internal("Registration failed", err)
	}

	return s.mint(user.ID, user.Email)
}

// Login verifies credentials and mints a session. Both unknown email and
// wrong password produce the same INVALID_CREDENTIALS error.
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	normalized := NormalizeEmail(email)

	user, err := s.repo.GetUserByEmail(ctx, normalized)
	if err != nil {
		if err == database.ErrNotFound {
			return "", errors.InvalidCredentials()
		}
		return "", errors.Internal("Login failed", err)
	}

	if user.PasswordHash == "" {
		return "", errors.InvalidCredentials()
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return "", errors.InvalidCredentials()
	}

	return s.mint(user.ID, user.Email)
}

// Verify parses and validates a session token. Any failure (malformed,
// expired, wrong signature) yields INVALID_TOKEN.
func (s *Service) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, errors.InvalidToken(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.InvalidToken(nil)
	}
	return claims, nil
}

func (s *Service) mint(userID, email string) (string, error) {
	now := time.Now()
	claims := &Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "quietline",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", errors.Internal("Failed to issue session", err)
	}
	return signed, nil
}

func displayNameFromEmail(email string) string {
	if i := strings.IndexByte(email, '@'); i > 0 {
		return email[:i]
	}
	return "User"
}
