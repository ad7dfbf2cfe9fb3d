package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

const (
	// TokenPrefix identifies shina-audit tokens
	TokenPrefix = "shina_"
	// TokenLength is the number of random bytes in a token
	TokenLength = 32
)

// ErrInvalidToken is returned for malformed, unknown, revoked or expired tokens
var ErrInvalidToken = errors.New("invalid or expired token")

// TokenGenerator generates and hashes API tokens
type TokenGenerator struct{}

// NewTokenGenerator creates a new token generator
func NewTokenGenerator() *TokenGenerator {
	return &TokenGenerator{}
}

// GenerateToken creates a new API token
// Format: shina_<base64url(32 random bytes)>
func (tg *TokenGenerator) GenerateToken() (token string, tokenHash string, tokenPrefix string, err error) {
	randomBytes := make([]byte, TokenLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	encodedToken := base64.RawURLEncoding.EncodeToString(randomBytes)
	fullToken := TokenPrefix + encodedToken

	// First 8 chars after the prefix identify the token in listings
	prefix := TokenPrefix
	if len(encodedToken) >= 8 {
		prefix = TokenPrefix + encodedToken[:8]
	}

	return fullToken, tg.HashToken(fullToken), prefix, nil
}

// HashToken computes the SHA256 hash of a token for lookup
func (tg *TokenGenerator) HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ValidateTokenFormat checks if a token has the correct format
func (tg *TokenGenerator) ValidateTokenFormat(token string) error {
	if !strings.HasPrefix(token, TokenPrefix) {
		return fmt.Errorf("token must start with %q", TokenPrefix)
	}

	encodedPart := strings.TrimPrefix(token, TokenPrefix)
	if len(encodedPart) == 0 {
		return fmt.Errorf("token is too short")
	}

	if _, err := base64.RawURLEncoding.DecodeString(encodedPart); err != nil {
		return fmt.Errorf("invalid token encoding: %w", err)
	}

	return nil
}

// TokenValidator resolves a bearer token to the principal that owns it
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*Principal, error)
}

// DBTokenValidator looks tokens up by hash in PostgreSQL
type DBTokenValidator struct {
	db        *sql.DB
	generator *TokenGenerator
	now       func() time.Time
}

// NewDBTokenValidator creates a validator over the api_tokens and users tables
func NewDBTokenValidator(db *sql.DB) *DBTokenValidator {
	return &DBTokenValidator{
		db:        db,
		generator: NewTokenGenerator(),
		now:       time.Now,
	}
}

// ValidateToken returns the principal of an active, unexpired token
func (v *DBTokenValidator) ValidateToken(ctx context.Context, token string) (*Principal, error) {
	if err := v.generator.ValidateTokenFormat(token); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	query := `
		SELECT u.id, u.username, t.permissions
		FROM api_tokens t
		JOIN users u ON u.id = t.user_id
		WHERE t.token_hash = $1
		  AND t.revoked_at IS NULL
		  AND (t.expires_at IS NULL OR t.expires_at > $2)
	`

	var principal Principal
	var permissions pq.StringArray
	err := v.db.QueryRowContext(ctx, query, v.generator.HashToken(token), v.now().UTC()).
		Scan(&principal.UserID, &principal.Username, &permissions)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}

	principal.Permissions = make([]PermissionCode, 0, len(permissions))
	for _, p := range permissions {
		principal.Permissions = append(principal.Permissions, PermissionCode(p))
	}
	return &principal, nil
}
