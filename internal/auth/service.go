package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrOperatorNotFound = errors.New("operator not found")
	ErrInvalidPassword  = errors.New("invalid password")
	ErrOperatorExists   = errors.New("operator already exists")
	ErrInvalidToken     = errors.New("invalid token")
	ErrForbidden        = errors.New("insufficient role")
)

// Roles ordered by privilege. Viewer can read reports and alerts,
// operator can acknowledge and resolve alerts, admin can issue commands.
const (
	RoleViewer   = "viewer"
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

var roleRank = map[string]int{
	RoleViewer:   0,
	RoleOperator: 1,
	RoleAdmin:    2,
}

// Operator is a registered console user.
type Operator struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`

	passwordHash string
}

type Claims struct {
	OperatorID string `json:"operator_id"`
	Name       string `json:"name"`
	Role       string `json:"role"`
	jwt.RegisteredClaims
}

// Service issues and verifies operator tokens. Operators are held in
// memory and seeded at startup; the analysis console does not manage
// accounts beyond the configured set.
type Service struct {
	mu        sync.RWMutex
	operators map[string]*Operator
	jwtSecret []byte
	tokenTTL  time.Duration
}

type Config struct {
	JWTSecret string
	TokenTTL  time.Duration
}

func NewService(cfg Config) *Service {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		operators: make(map[string]*Operator),
		jwtSecret: []byte(cfg.JWTSecret),
		tokenTTL:  ttl,
	}
}

// Register adds an operator. Used at startup to seed configured
// accounts and by admins adding console users at runtime.
func (s *Service) Register(name, password, role string) (*Operator, error) {
	if _, ok := roleRank[role]; !ok {
		return nil, fmt.Errorf("unknown role %q", role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.operators[name]; ok {
		return nil, ErrOperatorExists
	}

	op := &Operator{
		ID:           uuid.New().String(),
		Name:         name,
		Role:         role,
		CreatedAt:    time.Now(),
		passwordHash: hashSecret(password),
	}
	s.operators[name] = op
	return op, nil
}

// Login verifies credentials and returns a signed JWT.
func (s *Service) Login(name, password string) (string, error) {
	s.mu.RLock()
	op, ok := s.operators[name]
	s.mu.RUnlock()

	if !ok {
		return "", ErrOperatorNotFound
	}
	if subtle.ConstantTimeCompare([]byte(hashSecret(password)), []byte(op.passwordHash)) != 1 {
		return "", ErrInvalidPassword
	}

	claims := &Claims{
		OperatorID: op.ID,
		Name:       op.Name,
		Role:       op.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// VerifyToken parses and validates a bearer token.
func (s *Service) VerifyToken(tokenString string) (*Claims, error) {
	if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
		tokenString = tokenString[7:]
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// RequireRole checks that claims carry at least the given role.
func (s *Service) RequireRole(claims *Claims, role string) error {
	need, ok := roleRank[role]
	if !ok {
		return fmt.Errorf("unknown role %q", role)
	}
	if roleRank[claims.Role] < need {
		return ErrForbidden
	}
	return nil
}

// Middleware returns a gin handler that rejects requests without a
// valid token carrying at least the given role. Claims are stored on
// the context under "claims".
func (s *Service) Middleware(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("Authorization")
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		claims, err := s.VerifyToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		if err := s.RequireRole(claims, role); err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
			return
		}

		c.Set("claims", claims)
		c.Next()
	}
}

func hashSecret(secret string) string {
	hash := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(hash[:])
}
