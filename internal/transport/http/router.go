package httpserver

import (
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/ecomadmin/shop/internal/handlers"
	"github.com/ecomadmin/shop/internal/middleware"
)

type Deps struct {
	DB          *gorm.DB
	AuthHandler *handlers.AuthHandler
	JWTSecret   []byte
}

func Register(e *echo.Echo, d *Deps) {
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(200) })
	e.GET("/health/ready", func(c echo.Context) error { return c.NoContent(200) })

	v1 := e.Group("/api/v1")
	auth := v1.Group("/auth")

	auth.POST("/signup", d.AuthHandler.Signup)
	auth.POST("/login", d.AuthHandler.Login)
	auth.POST("/refresh-token", d.AuthHandler.RefreshToken)
	auth.POST("/logout", d.AuthHandler.LogOut)

	auth.POST("/request-verification", d.AuthHandler.RequestVerification)
	auth.GET("/verify/:token", d.AuthHandler.VerifyAccount)
	auth.POST("/forgot-password", d.AuthHandler.ForgotPassword)
	auth.POST("/reset-password", d.AuthHandler.ResetPassword)

	auth.GET("/me", d.AuthHandler.Me, middleware.RequireAuth(d.JWTSecret))
}
