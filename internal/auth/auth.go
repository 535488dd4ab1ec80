package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ukydev/fleet-replay/internal/models"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidToken       = errors.New("invalid token")
	ErrExpiredToken       = errors.New("token expired")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Service issues and validates tokens for the configured replay users
type Service struct {
	jwtSecret   []byte
	tokenExp    time.Duration
	credentials map[string]models.Credential
	now         func() time.Time
}

// NewService creates an authentication service. Credentials without a
// password hash are ignored, so an unset hash disables that login.
func NewService(secret string, exp time.Duration, creds ...models.Credential) (*Service, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if exp <= 0 {
		exp = 24 * time.Hour
	}
	s := &Service{
		jwtSecret:   []byte(secret),
		tokenExp:    exp,
		credentials: make(map[string]models.Credential, len(creds)),
		now:         time.Now,
	}
	for _, c := range creds {
		if c.Username == "" || c.PasswordHash == "" {
			continue
		}
		if !models.IsValidRole(c.Role) {
			return nil, fmt.Errorf("credential %q: invalid role %q", c.Username, c.Role)
		}
		s.credentials[c.Username] = c
	}
	return s, nil
}

// HashPassword hashes a password using bcrypt
func (s *Service) HashPassword(password string) (string, error) {
	return HashPassword(password)
}

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
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

// Login checks a username and password against the configured credentials
// and issues a token.
func (s *Service) Login(username, password string) (*models.LoginResponse, error) {
	cred, ok := s.credentials[username]
	if !ok || !s.CheckPassword(password, cred.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	token, exp, err := s.GenerateToken(cred.Username, cred.Role)
	if err != nil {
		return nil, err
	}
	return &models.LoginResponse{
		Token:     token,
		Username:  cred.Username,
		Role:      cred.Role,
		ExpiresAt: exp,
	}, nil
}

// GenerateToken generates a JWT token and returns it with its expiry
func (s *Service) GenerateToken(username string, role models.Role) (string, int64, error) {
	now := s.now()
	exp := now.Add(s.tokenExp).Unix()
	claims := jwt.MapClaims{
		"username": username,
		"role":     string(role),
		"exp":      exp,
		"iat":      now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", 0, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, exp, nil
}

// ValidateToken validates a JWT token and returns the claims
func (s *Service) ValidateToken(tokenString string) (*models.Claims, error) {
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	username, ok := claims["username"].(string)
	if !ok {
		return nil, ErrInvalidToken
	}
	roleStr, ok := claims["role"].(string)
	if !ok || !models.IsValidRole(models.Role(roleStr)) {
		return nil, ErrInvalidToken
	}
	exp, ok := claims["exp"].(float64)
	if !ok {
		return nil, ErrInvalidToken
	}

	return &models.Claims{
		Username: username,
		Role:     models.Role(roleStr),
		Exp:      int64(exp),
	}, nil
}

// ExtractTokenFromHeader extracts token from Authorization header
func (s *Service) ExtractTokenFromHeader(authHeader string) (string, error) {
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", ErrInvalidToken
	}
	return parts[1], nil
}
