package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"watchly/config"
	"watchly/handlers"
	"watchly/internal/database"
	"watchly/services/catalog"
	"watchly/services/recommend"
	"watchly/services/scheduler"
	"watchly/services/stremio"
	"watchly/services/tmdb"
	"watchly/services/tokens"
	"watchly/utils"
)

func main() {
	settings, err := config.Load()
	if err != nil {
		log.Fatalf("[main] invalid configuration: %v", err)
	}

	if settings.LogPath != "" {
		rotator := &lumberjack.Logger{
			Filename:   settings.LogPath,
			MaxSize:    50, // MB
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
		log.SetOutput(io.MultiWriter(os.Stdout, rotator))
	}

	if !settings.HasSecureSalt() {
		log.Printf("[main] WARNING: TOKEN_SALT is unset or still the default; token storage is disabled until it is configured")
	}

	db, err := database.NewDB(database.Config{DatabasePath: settings.DatabasePath})
	if err != nil {
		log.Fatalf("[main] database init failed: %v", err)
	}
	defer db.Close()

	store := tokens.NewStore(db.Connection(), settings.TokenSalt,
		time.Duration(settings.TokenTTLSeconds)*time.Second)

	metadata := tmdb.NewClient(settings.TMDBAPIKey)
	source := stremio.NewSource(stremio.NewCaches())
	source.SetLovedQuota(settings.RecommendationSourceLimit)

	recommender := recommend.NewService(metadata)
	catalogService := catalog.NewService(metadata, settings.AddonID)
	updater := catalog.NewUpdater(catalogService, source, recommender)

	refreshLoop := scheduler.NewService(store, updater,
		time.Duration(settings.RefreshIntervalSeconds)*time.Second)
	if settings.AutoUpdateCatalogs && settings.HasSecureSalt() {
		refreshLoop.Start()
		defer refreshLoop.Stop()
	}

	manifestHandler := handlers.NewManifestHandler(settings, store, catalogService, source)
	catalogHandler := handlers.NewCatalogHandler(store, recommender, source)
	tokensHandler := handlers.NewTokensHandler(settings, store, updater, source)

	router := utils.NewRouter()
	router.HandleFunc("/manifest.json", manifestHandler.Base).
		Methods(http.MethodGet, http.MethodOptions)
	router.HandleFunc("/tokens", tokensHandler.Create).
		Methods(http.MethodPost, http.MethodOptions)
	router.HandleFunc("/{token}/manifest.json", manifestHandler.ForToken).
		Methods(http.MethodGet, http.MethodOptions)
	router.HandleFunc("/{token}/refresh", tokensHandler.Refresh).
		Methods(http.MethodPost, http.MethodOptions)
	router.HandleFunc("/{token}/catalog/{mediaType}/{id}.json", catalogHandler.Serve).
		Methods(http.MethodGet, http.MethodOptions)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", settings.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("[main] %s listening on %s", settings.AddonName, server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[main] server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("[main] shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] shutdown error: %v", err)
	}
}
