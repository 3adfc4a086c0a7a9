package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/ecomadmin/shop/internal/events"
	"github.com/ecomadmin/shop/internal/hash"
	"github.com/ecomadmin/shop/internal/logging"
	"github.com/ecomadmin/shop/internal/middleware"
	"github.com/ecomadmin/shop/internal/models"
	"github.com/ecomadmin/shop/internal/service/token"
)

type AuthHandler struct {
	DB     *gorm.DB
	Tokens *token.TokenService

	Producer events.Publisher

	// SecureCookies switches the refresh cookie to SameSite=None +
	// Secure for cross-site production deployments.
	SecureCookies bool

	// ClientOrigin is the SPA origin used in mailed links.
	ClientOrigin string
}

type userResponse struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	Verified bool   `json:"verified"`
}

func toUserResponse(u *models.User) userResponse {
	return userResponse{
		ID:       u.ID,
		Username: u.Username,
		Email:    u.Email,
		Role:     u.Role,
		Verified: u.Verified,
	}
}

func (h *AuthHandler) Signup(c echo.Context) error {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Username == "" || req.Email == "" || req.Password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "username, email and password are required")
	}

	var existing models.User
	err := h.DB.Where("email = ?", req.Email).First(&existing).Error
	if err == nil {
		return echo.NewHTTPError(http.StatusConflict, "user already exists")
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return echo.NewHTTPError(http.StatusInternalServerError, "database error")
	}

	pwHash, err := hash.HashPassword(req.Password)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "could not hash password")
	}

	user := models.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: pwHash,
		Role:         "user",
	}
	if err := h.DB.Create(&user).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "could not create user")
	}

	verification, err := h.createActionToken(user.ID, models.PurposeVerifyEmail, 24*time.Hour)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "could not create verification token")
	}

	h.publish(c, "user_events", fmt.Sprint(user.ID), map[string]any{
		"type":     "user_registered",
		"user_id":  user.ID,
		"username": user.Username,
		"email":    user.Email,
		"link":     h.verificationLink(verification.Token),
	})

	return c.JSON(http.StatusCreated, echo.Map{
		"success": true,
		"message": "User successfully registered",
		"user":    toUserResponse(&user),
	})
}

func (h *AuthHandler) Login(c echo.Context) error {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	var user models.User
	if err := h.DB.Where("email = ?", req.Email).First(&user).Error; err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}
	if !hash.CheckPassword(user.PasswordHash, req.Password) {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}

	pair, err := h.Tokens.Issue(user.ID, user.Role)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "could not issue tokens")
	}

	c.SetCookie(RefreshCookie(pair.RefreshToken, pair.RefreshExp, h.SecureCookies))

	h.publish(c, "user_events", fmt.Sprint(user.ID), map[string]any{
		"type":     "user_logged_in",
		"user_id":  user.ID,
		"username": user.Username,
	})

	return c.JSON(http.StatusOK, echo.Map{
		"success":     true,
		"user":        toUserResponse(&user),
		"accessToken": pair.AccessToken,
	})
}

// RefreshToken rotates the refresh token presented in the cookie and
// returns a new access token. Every failure path clears the cookie and
// answers 401 so the client never observes a partial rotation.
func (h *AuthHandler) RefreshToken(c echo.Context) error {
	cookie, err := c.Cookie(RefreshCookieName)
	if err != nil || cookie.Value == "" {
		c.SetCookie(ClearRefreshCookie(h.SecureCookies))
		return echo.NewHTTPError(http.StatusUnauthorized, "refresh token missing")
	}

	pair, userID, err := h.Tokens.ValidateAndRotate(cookie.Value)
	if err != nil {
		c.SetCookie(ClearRefreshCookie(h.SecureCookies))
		if errors.Is(err, token.ErrInvalidRefreshToken) {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid refresh token")
		}
		logging.FromContext(c.Request().Context()).Error("token rotation failed", "error", err)
		return echo.NewHTTPError(http.StatusUnauthorized, "could not rotate token")
	}

	c.SetCookie(RefreshCookie(pair.RefreshToken, pair.RefreshExp, h.SecureCookies))

	h.publish(c, "user_events", fmt.Sprint(userID), map[string]any{
		"type":    "token_refreshed",
		"user_id": userID,
	})

	return c.JSON(http.StatusOK, echo.Map{
		"success":     true,
		"accessToken": pair.AccessToken,
	})
}

// LogOut revokes every active refresh token of the user regardless of
// how the user is identified: by cookie when present, by the bearer
// token otherwise. The cookie is cleared in any case.
func (h *AuthHandler) LogOut(c echo.Context) error {
	var userID uint

	if cookie, err := c.Cookie(RefreshCookieName); err == nil && cookie.Value != "" {
		// Only a live token proves the session. A replayed cookie from
		// an already-revoked login must not revoke whatever session the
		// user holds now.
		var stored models.RefreshToken
		err := h.DB.Where("token = ? AND revoked = ? AND expires_at > ?",
			cookie.Value, false, time.Now()).First(&stored).Error
		if err == nil {
			userID = stored.UserID
		}
	}
	if userID == 0 {
		if id, ok := c.Get(middleware.CtxUserID).(string); ok {
			userID = parseUserID(id)
		}
	}

	if userID != 0 {
		if err := h.Tokens.RevokeAll(userID); err != nil {
			c.SetCookie(ClearRefreshCookie(h.SecureCookies))
			return echo.NewHTTPError(http.StatusInternalServerError, "could not revoke session")
		}
		h.publish(c, "user_events", fmt.Sprint(userID), map[string]any{
			"type":    "user_logged_out",
			"user_id": userID,
		})
	}

	c.SetCookie(ClearRefreshCookie(h.SecureCookies))
	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"message": "logged out",
	})
}

func (h *AuthHandler) Me(c echo.Context) error {
	id, _ := c.Get(middleware.CtxUserID).(string)
	userID := parseUserID(id)
	if userID == 0 {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid token subject")
	}

	var user models.User
	if err := h.DB.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusUnauthorized, "user no longer exists")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "database error")
	}

	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"user":    toUserResponse(&user),
	})
}

func (h *AuthHandler) publish(c echo.Context, topic, key string, event map[string]any) {
	if h.Producer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Producer.PublishEvent(ctx, topic, key, event); err != nil {
		logging.FromContext(c.Request().Context()).Error("kafka publish error", "topic", topic, "error", err)
	}
}

func parseUserID(s string) uint {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return uint(v)
}
