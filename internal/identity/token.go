package identity

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenIssuer = "chatcore-api"

// Claims are the verified contents of a session token.
type Claims struct {
	UserID   string
	Username string
	Role     Role
	Builtin  bool
}

// TokenMinter issues and verifies HS256 session tokens for authenticated
// identities. The builtin flag travels in the token so the HTTP surface can
// rebuild the synthetic identity without a store lookup.
type TokenMinter struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenMinter creates a minter with the given secret and lifetime.
func NewTokenMinter(secret string, ttl time.Duration) *TokenMinter {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenMinter{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Mint issues a token for the identity.
func (m *TokenMinter) Mint(id Identity) (string, time.Time, error) {
	now := m.now().UTC()
	exp := now.Add(m.ttl)
	claims := jwt.MapClaims{
		"iss":      tokenIssuer,
		"sub":      id.ID,
		"username": id.Username,
		"role":     string(id.Role),
		"builtin":  id.Builtin,
		"iat":      now.Unix(),
		"exp":      exp.Unix(),
		"jti":      uuid.NewString(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify parses and validates a token, returning its claims.
func (m *TokenMinter) Verify(tokenString string) (Claims, error) {
	parsed, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithExpirationRequired(), jwt.WithTimeFunc(m.now))
	if err != nil || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, ErrInvalidToken
	}
	sub, _ := mc["sub"].(string)
	if sub == "" {
		return Claims{}, ErrInvalidToken
	}
	username, _ := mc["username"].(string)
	role, _ := mc["role"].(string)
	builtin, _ := mc["builtin"].(bool)
	return Claims{
		UserID:   sub,
		Username: username,
		Role:     Role(role),
		Builtin:  builtin,
	}, nil
}
