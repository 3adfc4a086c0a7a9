package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/ecomadmin/shop/internal/config"
	"github.com/ecomadmin/shop/internal/events"
	"github.com/ecomadmin/shop/internal/handlers"
	"github.com/ecomadmin/shop/internal/logging"
	"github.com/ecomadmin/shop/internal/middleware"
	"github.com/ecomadmin/shop/internal/service/token"
	httpserver "github.com/ecomadmin/shop/internal/transport/http"
)

func main() {
	configuration, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger := logging.New("identity", configuration.LogLevel)

	db, err := config.InitDB(configuration)
	if err != nil {
		log.Fatalf("database init failed: %v", err)
	}

	jwtSecret := []byte(configuration.JWTSecret)
	refreshSecret := []byte(configuration.RefreshSecret)

	var producer *events.Producer
	if len(configuration.KafkaBrokers) > 0 {
		producer = events.NewProducer(configuration.KafkaBrokers)
	}

	tokenService := &token.TokenService{
		DB:            db,
		JWTSecret:     jwtSecret,
		RefreshSecret: refreshSecret,
	}

	authHandler := &handlers.AuthHandler{
		DB:            db,
		Tokens:        tokenService,
		SecureCookies: configuration.Production(),
		ClientOrigin:  configuration.ClientOrigin,
	}
	if producer != nil {
		authHandler.Producer = producer
	}

	e := echo.New()
	e.Pre(echomw.RemoveTrailingSlash())
	e.Use(echomw.Recover(), echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))

	httpserver.Register(e, &httpserver.Deps{
		DB:          db,
		AuthHandler: authHandler,
		JWTSecret:   jwtSecret,
	})

	srv := &http.Server{
		Addr:         ":" + configuration.ServerPort,
		Handler:      e,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()
	logger.Info("identity service listening", "port", configuration.ServerPort)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	if sqlDB, err := db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			logger.Error("db close error", "error", err)
		}
	}

	if producer != nil {
		if err := producer.Close(); err != nil {
			logger.Error("kafka close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
