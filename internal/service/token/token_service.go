package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"

	"github.com/ecomadmin/shop/internal/models"
	"github.com/ecomadmin/shop/pkg/tokens"
)

// ErrInvalidRefreshToken means the presented token is absent, revoked,
// expired or fails signature verification. The caller must force the
// user to re-authenticate.
var ErrInvalidRefreshToken = errors.New("invalid refresh token")

const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// TokenService persists, validates and rotates refresh tokens. At most
// one non-revoked refresh token exists per user: issuing a new one
// revokes all prior ones in the same transaction.
type TokenService struct {
	DB            *gorm.DB
	JWTSecret     []byte
	RefreshSecret []byte

	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type Pair struct {
	AccessToken  string
	RefreshToken string
	AccessExp    time.Time
	RefreshExp   time.Time
}

func (t *TokenService) accessTTL() time.Duration {
	if t.AccessTTL > 0 {
		return t.AccessTTL
	}
	return DefaultAccessTTL
}

func (t *TokenService) refreshTTL() time.Duration {
	if t.RefreshTTL > 0 {
		return t.RefreshTTL
	}
	return DefaultRefreshTTL
}

// issueAttempts bounds the retries when two issuances for the same
// user race into the partial unique index.
const issueAttempts = 3

// Issue signs a fresh access+refresh pair for the user and persists
// the refresh token, revoking the previous ones first. Revoke-then-
// insert alone does not serialize concurrent issuance under READ
// COMMITTED (neither UPDATE sees the other's uncommitted insert), so
// the single-active invariant is enforced by the partial unique index
// on (user_id) WHERE NOT revoked: the loser of a race gets a
// duplicate-key error and retries, revoking the winner's row.
func (t *TokenService) Issue(userID uint, role string) (*Pair, error) {
	now := time.Now()
	accessExp := now.Add(t.accessTTL())
	refreshExp := now.Add(t.refreshTTL())

	access, err := SignAccessToken(userID, role, accessExp, t.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refresh, err := SignRefreshToken(userID, refreshExp, t.RefreshSecret)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	for attempt := 0; ; attempt++ {
		record := models.RefreshToken{
			Token:     refresh,
			UserID:    userID,
			IssuedAt:  now,
			ExpiresAt: refreshExp,
			Revoked:   false,
		}

		err = t.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(&models.RefreshToken{}).
				Where("user_id = ? AND revoked = ?", userID, false).
				Update("revoked", true).Error; err != nil {
				return fmt.Errorf("revoke prior tokens: %w", err)
			}
			if err := tx.Create(&record).Error; err != nil {
				return fmt.Errorf("save refresh token: %w", err)
			}
			return nil
		})
		if err == nil {
			break
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) || attempt >= issueAttempts-1 {
			return nil, err
		}
	}

	return &Pair{
		AccessToken:  access,
		RefreshToken: refresh,
		AccessExp:    accessExp,
		RefreshExp:   refreshExp,
	}, nil
}

// ValidateAndRotate checks the presented refresh token against the
// stored record and the token's own signature, then issues a new pair.
// Any failure yields ErrInvalidRefreshToken; a token that fails
// verification because it expired also has its stale record deleted.
func (t *TokenService) ValidateAndRotate(rawToken string) (*Pair, uint, error) {
	var stored models.RefreshToken
	if err := t.DB.Where("token = ?", rawToken).First(&stored).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, 0, ErrInvalidRefreshToken
		}
		return nil, 0, fmt.Errorf("lookup refresh token: %w", err)
	}

	if stored.Revoked {
		return nil, 0, ErrInvalidRefreshToken
	}
	if time.Now().After(stored.ExpiresAt) {
		return nil, 0, ErrInvalidRefreshToken
	}

	if _, err := tokens.RefreshClaimsFromToken(rawToken, t.RefreshSecret); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			// The record outlived the token itself; drop it.
			if delErr := t.DB.Delete(&models.RefreshToken{}, stored.ID).Error; delErr != nil {
				return nil, 0, errors.Join(ErrInvalidRefreshToken, fmt.Errorf("delete stale record: %w", delErr))
			}
		}
		return nil, 0, ErrInvalidRefreshToken
	}

	var user models.User
	if err := t.DB.First(&user, stored.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, 0, ErrInvalidRefreshToken
		}
		return nil, 0, fmt.Errorf("lookup user: %w", err)
	}

	pair, err := t.Issue(user.ID, user.Role)
	if err != nil {
		return nil, 0, err
	}
	return pair, user.ID, nil
}

// RevokeAll invalidates every active refresh token of the user. Used
// at logout and after a password reset.
func (t *TokenService) RevokeAll(userID uint) error {
	err := t.DB.Model(&models.RefreshToken{}).
		Where("user_id = ? AND revoked = ?", userID, false).
		Update("revoked", true).Error
	if err != nil {
		return fmt.Errorf("revoke tokens: %w", err)
	}
	return nil
}

// Revoke invalidates one token by value, ignoring unknown tokens.
func (t *TokenService) Revoke(rawToken string) error {
	err := t.DB.Model(&models.RefreshToken{}).
		Where("token = ?", rawToken).
		Update("revoked", true).Error
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}
