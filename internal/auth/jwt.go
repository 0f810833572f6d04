package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrMissingToken = errors.New("missing bearer token")
)

// Staff roles carried in StaffClaims.
const (
	RoleModerator = "moderator"
	RoleScorer    = "scorer"
	RoleAdmin     = "admin"
	// RoleChat is held by the chat-platform client acting for players.
	RoleChat = "chat"
)

// JWTService signs and checks the two token audiences the core accepts:
// staff tokens for the admin API and client tokens for game servers
// connecting to the bridge.
type JWTService struct {
	staffSecret  []byte
	bridgeSecret []byte
	staffTTL     time.Duration
	now          func() time.Time
}

type StaffClaims struct {
	StaffID string   `json:"staffId"`
	Roles   []string `json:"roles"`
	jwt.RegisteredClaims
}

// HasRole reports whether the staff member holds role. Admins hold every role.
func (c *StaffClaims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role || r == RoleAdmin {
			return true
		}
	}
	return false
}

type BridgeClaims struct {
	ClientName string `json:"clientName"`
	jwt.RegisteredClaims
}

func NewJWTService(staffSecret, bridgeSecret string) *JWTService {
	return &JWTService{
		staffSecret:  []byte(staffSecret),
		bridgeSecret: []byte(bridgeSecret),
		staffTTL:     12 * time.Hour,
		now:          time.Now,
	}
}

// BridgeAuthEnabled reports whether game servers must present a token.
func (s *JWTService) BridgeAuthEnabled() bool {
	return len(s.bridgeSecret) > 0
}

// GenerateStaffToken creates a staff token with the given roles
func (s *JWTService) GenerateStaffToken(staffID string, roles []string) (string, error) {
	if len(s.staffSecret) == 0 {
		return "", fmt.Errorf("staff secret not configured")
	}
	now := s.now()
	claims := StaffClaims{
		StaffID: staffID,
		Roles:   roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   staffID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.staffTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.staffSecret)
}

// GenerateBridgeToken creates a long-lived token for a game server.
func (s *JWTService) GenerateBridgeToken(clientName string) (string, error) {
	if !s.BridgeAuthEnabled() {
		return "", fmt.Errorf("bridge secret not configured")
	}
	claims := BridgeClaims{
		ClientName: clientName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  clientName,
			IssuedAt: jwt.NewNumericDate(s.now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.bridgeSecret)
}

// ValidateStaffToken validates and parses a staff token
func (s *JWTService) ValidateStaffToken(tokenString string) (*StaffClaims, error) {
	claims := &StaffClaims{}
	if err := s.parse(tokenString, claims, s.staffSecret); err != nil {
		return nil, err
	}
	if claims.StaffID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ValidateBridgeToken validates and parses a game-server token
func (s *JWTService) ValidateBridgeToken(tokenString string) (*BridgeClaims, error) {
	claims := &BridgeClaims{}
	if err := s.parse(tokenString, claims, s.bridgeSecret); err != nil {
		return nil, err
	}
	if claims.ClientName == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *JWTService) parse(tokenString string, claims jwt.Claims, secret []byte) error {
	if len(secret) == 0 {
		return ErrInvalidToken
	}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return secret, nil
	}, jwt.WithTimeFunc(s.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpiredToken
		}
		return ErrInvalidToken
	}
	if !token.Valid {
		return ErrInvalidToken
	}
	return nil
}

// AuthenticateBridge admits a bridge upgrade request by its bearer token,
// given either as an Authorization header or a "token" query parameter.
// It returns the client name.
func (s *JWTService) AuthenticateBridge(r *http.Request) (string, error) {
	tokenString := BearerToken(r)
	if tokenString == "" {
		tokenString = r.URL.Query().Get("token")
	}
	if tokenString == "" {
		return "", ErrMissingToken
	}
	claims, err := s.ValidateBridgeToken(tokenString)
	if err != nil {
		return "", err
	}
	return claims.ClientName, nil
}

// BearerToken extracts the token of an "Authorization: Bearer <token>" header.
func BearerToken(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// GetStaffTTL returns the staff token time-to-live duration
func (s *JWTService) GetStaffTTL() time.Duration {
	return s.staffTTL
}
