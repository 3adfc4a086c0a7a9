package token

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ecomadmin/shop/internal/models"
)

func newTestService(t *testing.T) *TokenService {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// each sqlite :memory: connection is its own database
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.RefreshToken{}))
	require.NoError(t, db.Exec(
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_refresh_tokens_one_active ON refresh_tokens (user_id) WHERE NOT revoked",
	).Error)

	return &TokenService{
		DB:            db,
		JWTSecret:     []byte("test-jwt-secret"),
		RefreshSecret: []byte("test-refresh-secret"),
	}
}

func createUser(t *testing.T, db *gorm.DB) models.User {
	t.Helper()
	u := models.User{Username: "admin", Email: "admin@shop.dev", PasswordHash: "x", Role: "admin"}
	require.NoError(t, db.Create(&u).Error)
	return u
}

func activeTokens(t *testing.T, db *gorm.DB, userID uint) []models.RefreshToken {
	t.Helper()
	var out []models.RefreshToken
	require.NoError(t, db.Where("user_id = ? AND revoked = ?", userID, false).Find(&out).Error)
	return out
}

func TestIssue_CreatesSingleActiveToken(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	u := createUser(t, svc.DB)

	pair, err := svc.Issue(u.ID, u.Role)
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	assert.True(t, pair.RefreshExp.After(pair.AccessExp))

	active := activeTokens(t, svc.DB, u.ID)
	require.Len(t, active, 1)
	assert.Equal(t, pair.RefreshToken, active[0].Token)
}

func TestIssue_RevokesPriorTokens(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	u := createUser(t, svc.DB)

	first, err := svc.Issue(u.ID, u.Role)
	require.NoError(t, err)

	// Second login (e.g. another device): single-active-session policy
	// revokes the first token.
	second, err := svc.Issue(u.ID, u.Role)
	require.NoError(t, err)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)

	active := activeTokens(t, svc.DB, u.ID)
	require.Len(t, active, 1)
	assert.Equal(t, second.RefreshToken, active[0].Token)

	_, _, err = svc.ValidateAndRotate(first.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken, "replaying the revoked token must fail")
}

func TestIssue_ActiveTokenUniqueIndexEnforced(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	u := createUser(t, svc.DB)

	_, err := svc.Issue(u.ID, u.Role)
	require.NoError(t, err)

	// A second active row for the same user is rejected by the database
	// itself, independent of the revoke UPDATE in Issue. This is what
	// keeps two racing logins from both committing an active token.
	err = svc.DB.Create(&models.RefreshToken{
		Token:     "sneaked-in",
		UserID:    u.ID,
		IssuedAt:  time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}).Error
	require.ErrorIs(t, err, gorm.ErrDuplicatedKey)

	// Revoked rows are outside the index; history can pile up freely.
	require.NoError(t, svc.DB.Create(&models.RefreshToken{
		Token:     "old-history",
		UserID:    u.ID,
		IssuedAt:  time.Now().Add(-time.Hour),
		ExpiresAt: time.Now().Add(time.Hour),
		Revoked:   true,
	}).Error)
}

func TestIssue_ConcurrentIssuanceKeepsSingleActive(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	u := createUser(t, svc.DB)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Issue(u.ID, u.Role)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "caller %d", i)
	}
	assert.Len(t, activeTokens(t, svc.DB, u.ID), 1)
}

func TestValidateAndRotate_RotatesAndInvalidatesOld(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	u := createUser(t, svc.DB)

	pair, err := svc.Issue(u.ID, u.Role)
	require.NoError(t, err)

	rotated, userID, err := svc.ValidateAndRotate(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, u.ID, userID)
	assert.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)

	// The previously active record is no longer valid.
	_, _, err = svc.ValidateAndRotate(pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)

	// The rotated one is.
	_, _, err = svc.ValidateAndRotate(rotated.RefreshToken)
	require.NoError(t, err)
}

func TestValidateAndRotate_UnknownToken(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	_, _, err := svc.ValidateAndRotate("not-a-stored-token")
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestValidateAndRotate_ExpiredRecord(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	u := createUser(t, svc.DB)

	pair, err := svc.Issue(u.ID, u.Role)
	require.NoError(t, err)

	require.NoError(t, svc.DB.Model(&models.RefreshToken{}).
		Where("token = ?", pair.RefreshToken).
		Update("expires_at", time.Now().Add(-time.Hour)).Error)

	_, _, err = svc.ValidateAndRotate(pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestValidateAndRotate_ExpiredSignatureDeletesRecord(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	u := createUser(t, svc.DB)

	// Token whose JWT expiry already passed, stored with a record that
	// still looks alive. Verification fails on expiry and the stale
	// record is removed.
	raw, err := SignRefreshToken(u.ID, time.Now().Add(-time.Minute), svc.RefreshSecret)
	require.NoError(t, err)
	require.NoError(t, svc.DB.Create(&models.RefreshToken{
		Token:     raw,
		UserID:    u.ID,
		IssuedAt:  time.Now().Add(-time.Hour),
		ExpiresAt: time.Now().Add(time.Hour),
	}).Error)

	_, _, err = svc.ValidateAndRotate(raw)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)

	var count int64
	require.NoError(t, svc.DB.Model(&models.RefreshToken{}).Where("token = ?", raw).Count(&count).Error)
	assert.Zero(t, count, "stale record must be deleted")
}

func TestValidateAndRotate_StaleRecordDeleteFailureSurfaces(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	u := createUser(t, svc.DB)

	raw, err := SignRefreshToken(u.ID, time.Now().Add(-time.Minute), svc.RefreshSecret)
	require.NoError(t, err)
	require.NoError(t, svc.DB.Create(&models.RefreshToken{
		Token:     raw,
		UserID:    u.ID,
		IssuedAt:  time.Now().Add(-time.Hour),
		ExpiresAt: time.Now().Add(time.Hour),
	}).Error)

	deleteErr := errors.New("disk says no")
	require.NoError(t, svc.DB.Callback().Delete().Before("gorm:delete").
		Register("fail_deletes", func(d *gorm.DB) { d.AddError(deleteErr) }))

	_, _, err = svc.ValidateAndRotate(raw)
	// Still an invalid token to the caller, but the storage failure is
	// not silently dropped.
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
	assert.ErrorIs(t, err, deleteErr)
}

func TestValidateAndRotate_TamperedSignature(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	u := createUser(t, svc.DB)

	raw, err := SignRefreshToken(u.ID, time.Now().Add(time.Hour), []byte("wrong-secret"))
	require.NoError(t, err)
	require.NoError(t, svc.DB.Create(&models.RefreshToken{
		Token:     raw,
		UserID:    u.ID,
		IssuedAt:  time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}).Error)

	_, _, err = svc.ValidateAndRotate(raw)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestRevokeAll(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	u := createUser(t, svc.DB)

	pair, err := svc.Issue(u.ID, u.Role)
	require.NoError(t, err)

	require.NoError(t, svc.RevokeAll(u.ID))
	assert.Empty(t, activeTokens(t, svc.DB, u.ID))

	_, _, err = svc.ValidateAndRotate(pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestRevoke_UnknownTokenIsNoError(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	require.NoError(t, svc.Revoke("never-seen"))
}
