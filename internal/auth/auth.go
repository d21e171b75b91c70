package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rhaen/tracker/internal/models"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidToken       = errors.New("invalid token")
	ErrExpiredToken       = errors.New("token expired")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserInactive       = errors.New("user is inactive")
)

// streamScope marks short-lived tokens minted for the live stream,
// where browsers cannot set an Authorization header.
const streamScope = "stream"

// Service handles authentication operations
type Service struct {
	jwtSecret      []byte
	tokenExp       time.Duration
	streamTokenExp time.Duration
}

// NewService creates a new authentication service
func NewService(secret string, tokenExp, streamTokenExp time.Duration) *Service {
	return &Service{
		jwtSecret:      []byte(secret),
		tokenExp:       tokenExp,
		streamTokenExp: streamTokenExp,
	}
}

// HashPassword hashes a password using bcrypt
func (s *Service) HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(bytes), nil
}

// CheckPassword checks if a password matches a hash
func (s *Service) CheckPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// GenerateToken generates a JWT token for a user
func (s *Service) GenerateToken(user *models.User) (string, error) {
	claims := jwt.MapClaims{
		"user_id":  user.ID.Hex(),
		"username": user.Username,
		"role":     string(user.Role),
		"exp":      time.Now().Add(s.tokenExp).Unix(),
		"iat":      time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// GenerateStreamToken mints a short-lived token carrying the user's
// identity for the live-location stream handshake.
func (s *Service) GenerateStreamToken(claims *models.Claims) (string, error) {
	streamClaims := jwt.MapClaims{
		"user_id":  claims.UserID,
		"username": claims.Username,
		"role":     string(claims.Role),
		"scope":    streamScope,
		"exp":      time.Now().Add(s.streamTokenExp).Unix(),
		"iat":      time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, streamClaims)
	return token.SignedString(s.jwtSecret)
}

// ValidateToken validates a JWT token and returns the claims
func (s *Service) ValidateToken(tokenString string) (*models.Claims, error) {
	claims, scope, err := s.parse(tokenString)
	if err != nil {
		return nil, err
	}
	if scope == streamScope {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ValidateStreamToken validates a stream token. Only tokens minted by
// GenerateStreamToken pass; an ordinary API token is rejected so a
// leaked stream URL never doubles as API credentials and vice versa.
func (s *Service) ValidateStreamToken(tokenString string) (*models.Claims, error) {
	claims, scope, err := s.parse(tokenString)
	if err != nil {
		return nil, err
	}
	if scope != streamScope {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *Service) parse(tokenString string) (*models.Claims, string, error) {
	// Remove "Bearer " prefix if present
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, "", ErrExpiredToken
		}
		return nil, "", ErrInvalidToken
	}

	if !token.Valid {
		return nil, "", ErrInvalidToken
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, "", ErrInvalidToken
	}

	userID, ok := mapClaims["user_id"].(string)
	if !ok {
		return nil, "", ErrInvalidToken
	}

	username, ok := mapClaims["username"].(string)
	if !ok {
		return nil, "", ErrInvalidToken
	}

	roleStr, ok := mapClaims["role"].(string)
	if !ok {
		return nil, "", ErrInvalidToken
	}

	exp, ok := mapClaims["exp"].(float64)
	if !ok {
		return nil, "", ErrInvalidToken
	}

	scope, _ := mapClaims["scope"].(string)

	return &models.Claims{
		UserID:   userID,
		Username: username,
		Role:     models.Role(roleStr),
		Exp:      int64(exp),
	}, scope, nil
}

// ExtractTokenFromHeader extracts token from Authorization header
func (s *Service) ExtractTokenFromHeader(authHeader string) (string, error) {
	if authHeader == "" {
		return "", ErrInvalidToken
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", ErrInvalidToken
	}

	return parts[1], nil
}

// ValidatePassword validates password strength
func (s *Service) ValidatePassword(password string) error {
	if len(password) < 8 {
		return errors.New("password must be at least 8 characters long")
	}
	return nil
}

// ValidateEmail validates email format
func (s *Service) ValidateEmail(email string) error {
	if !strings.Contains(email, "@") || !strings.Contains(email, ".") {
		return errors.New("invalid email format")
	}
	return nil
}

// ValidateUsername validates username format
func (s *Service) ValidateUsername(username string) error {
	if len(username) < 3 {
		return errors.New("username must be at least 3 characters long")
	}
	if len(username) > 50 {
		return errors.New("username must be less than 50 characters")
	}
	return nil
}
