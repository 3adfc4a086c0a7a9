package handlers

import (
	"net/http"
	"time"
)

const RefreshCookieName = "refreshToken"

// RefreshCookie builds the HttpOnly cookie carrying the refresh token.
// Dev uses SameSite=Lax; cross-site production needs None, which in
// turn requires Secure.
func RefreshCookie(value string, exp time.Time, secure bool) *http.Cookie {
	cookie := &http.Cookie{
		Name:     RefreshCookieName,
		Value:    value,
		Path:     "/",
		Expires:  exp,
		MaxAge:   int(time.Until(exp).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if secure {
		cookie.SameSite = http.SameSiteNoneMode
		cookie.Secure = true
	}
	return cookie
}

func ClearRefreshCookie(secure bool) *http.Cookie {
	cookie := RefreshCookie("", time.Now().Add(-time.Hour), secure)
	cookie.MaxAge = -1
	return cookie
}
