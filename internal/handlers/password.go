package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/ecomadmin/shop/internal/hash"
	"github.com/ecomadmin/shop/internal/models"
)

func (h *AuthHandler) createActionToken(userID uint, purpose string, ttl time.Duration) (*models.ActionToken, error) {
	// One outstanding token per purpose: requesting a new mail voids
	// the previous link.
	if err := h.DB.Where("user_id = ? AND purpose = ?", userID, purpose).
		Delete(&models.ActionToken{}).Error; err != nil {
		return nil, fmt.Errorf("drop prior tokens: %w", err)
	}

	actionToken := models.ActionToken{
		UserID:    userID,
		Token:     uuid.NewString(),
		Purpose:   purpose,
		ExpiresAt: time.Now().Add(ttl),
	}
	if err := h.DB.Create(&actionToken).Error; err != nil {
		return nil, fmt.Errorf("save action token: %w", err)
	}
	return &actionToken, nil
}

func (h *AuthHandler) consumeActionToken(raw, purpose string) (*models.ActionToken, error) {
	var actionToken models.ActionToken
	err := h.DB.Where("token = ? AND purpose = ?", raw, purpose).First(&actionToken).Error
	if err != nil {
		return nil, err
	}

	// The delete is the claim: whichever of two concurrent requests
	// removes the row wins, the other sees zero rows and is turned away.
	res := h.DB.Where("id = ? AND expires_at > ?", actionToken.ID, time.Now()).
		Delete(&models.ActionToken{})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// Consumed by a concurrent request, or expired. Expired rows are
		// swept when the next token for the same purpose is created.
		return nil, gorm.ErrRecordNotFound
	}
	return &actionToken, nil
}

func (h *AuthHandler) verificationLink(token string) string {
	return fmt.Sprintf("%s/verify/%s", h.ClientOrigin, token)
}

func (h *AuthHandler) resetLink(token string) string {
	return fmt.Sprintf("%s/reset-password/%s", h.ClientOrigin, token)
}

func (h *AuthHandler) RequestVerification(c echo.Context) error {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.Bind(&req); err != nil || req.Email == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "email is required")
	}

	var user models.User
	if err := h.DB.Where("email = ?", req.Email).First(&user).Error; err != nil {
		// Do not reveal whether the address is registered.
		return c.JSON(http.StatusOK, echo.Map{"success": true, "message": "If the account exists, a mail was sent"})
	}
	if user.Verified {
		return c.JSON(http.StatusOK, echo.Map{"success": true, "message": "Account already verified"})
	}

	verification, err := h.createActionToken(user.ID, models.PurposeVerifyEmail, 24*time.Hour)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "could not create verification token")
	}

	h.publish(c, "email_events", fmt.Sprint(user.ID), map[string]any{
		"type":  "verification_email",
		"email": user.Email,
		"link":  h.verificationLink(verification.Token),
	})

	return c.JSON(http.StatusOK, echo.Map{"success": true, "message": "If the account exists, a mail was sent"})
}

func (h *AuthHandler) VerifyAccount(c echo.Context) error {
	raw := c.Param("token")
	actionToken, err := h.consumeActionToken(raw, models.PurposeVerifyEmail)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid or expired verification token")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "database error")
	}

	if err := h.DB.Model(&models.User{}).
		Where("id = ?", actionToken.UserID).
		Update("verified", true).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "could not verify account")
	}

	h.publish(c, "user_events", fmt.Sprint(actionToken.UserID), map[string]any{
		"type":    "account_verified",
		"user_id": actionToken.UserID,
	})

	return c.JSON(http.StatusOK, echo.Map{"success": true, "message": "Account verified"})
}

func (h *AuthHandler) ForgotPassword(c echo.Context) error {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.Bind(&req); err != nil || req.Email == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "email is required")
	}

	var user models.User
	if err := h.DB.Where("email = ?", req.Email).First(&user).Error; err != nil {
		return c.JSON(http.StatusOK, echo.Map{"success": true, "message": "If the account exists, a mail was sent"})
	}

	reset, err := h.createActionToken(user.ID, models.PurposeResetPassword, 15*time.Minute)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "could not create reset token")
	}

	h.publish(c, "email_events", fmt.Sprint(user.ID), map[string]any{
		"type":  "password_reset_email",
		"email": user.Email,
		"link":  h.resetLink(reset.Token),
	})

	return c.JSON(http.StatusOK, echo.Map{"success": true, "message": "If the account exists, a mail was sent"})
}

// ResetPassword sets a new password and kills every active session of
// the user, so a stolen refresh token dies with the old password.
func (h *AuthHandler) ResetPassword(c echo.Context) error {
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"newPassword"`
	}
	if err := c.Bind(&req); err != nil || req.Token == "" || req.NewPassword == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "token and newPassword are required")
	}

	actionToken, err := h.consumeActionToken(req.Token, models.PurposeResetPassword)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid or expired reset token")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "database error")
	}

	pwHash, err := hash.HashPassword(req.NewPassword)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "could not hash password")
	}

	if err := h.DB.Model(&models.User{}).
		Where("id = ?", actionToken.UserID).
		Update("password_hash", pwHash).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "could not update password")
	}

	if err := h.Tokens.RevokeAll(actionToken.UserID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "could not revoke sessions")
	}

	h.publish(c, "user_events", fmt.Sprint(actionToken.UserID), map[string]any{
		"type":    "password_reset",
		"user_id": actionToken.UserID,
	})

	return c.JSON(http.StatusOK, echo.Map{"success": true, "message": "Password updated"})
}
