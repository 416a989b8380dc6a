package main

import (
	"context"
	"errors"
	"log"
	oshttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"parley/internal/api"
	"parley/internal/auth"
	"parley/internal/config"
	"parley/internal/dispatch"
	"parley/internal/filestore"
	"parley/internal/http"
	"parley/internal/notify"
	"parley/internal/presence"
	"parley/internal/receipts"
	"parley/internal/registry"
	"parley/internal/storage"
	"parley/internal/ws"
)

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	store, err := storage.NewStore(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	verifier, err := auth.NewVerifier(ctx, auth.Config{
		Secret:      cfg.AuthSecret,
		TokenExpiry: cfg.TokenExpiry,
	})
	if err != nil {
		return err
	}

	files, err := filestore.New(cfg.UploadsPath)
	if err != nil {
		return err
	}

	reg := registry.New()
	presenceEngine := presence.New(ctx, store, reg, cfg.TypingTTL, cfg.OfflineGrace)
	defer presenceEngine.Close()

	tracker := receipts.New(store)
	notifier := notify.New(store, reg, notify.VAPIDConfig{
		PublicKey:  cfg.VAPIDPublicKey,
		PrivateKey: cfg.VAPIDPrivateKey,
		Subject:    cfg.VAPIDSubject,
	}, cfg.NotifyQueueSize)
	dispatcher := dispatch.New(store, reg, notifier)

	hub := ws.NewHub(reg, presenceEngine, tracker, dispatcher, store)

	// The hub pushes through these and they push through the hub, so the
	// hub is attached after everything is constructed.
	presenceEngine.Bind(hub)
	tracker.Bind(hub)
	notifier.Bind(hub)
	dispatcher.Bind(hub)

	handlers := api.New(store, verifier, tracker, dispatcher, presenceEngine, files)
	wsServer := ws.NewServer(verifier, hub)
	adminHandler := api.NewAdminHandler(store, verifier, reg, cfg.AdminPassword)

	apiServer := http.NewAPIServer(handlers, wsServer, cfg.APIAddr)
	adminServer := http.NewAdminServer(adminHandler, cfg.AdminAddr)

	g, gCtx := errgroup.WithContext(ctx)

	// Start Admin Server
	g.Go(func() error {
		err := adminServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Start API Server
	g.Go(func() error {
		err := apiServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Notification worker
	g.Go(func() error {
		if err := notifier.Run(gCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		log.Println("Shutting down servers...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Admin server shutdown error: %v", err)
		}
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("API server shutdown error: %v", err)
		}
		return nil
	})

	return g.Wait()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
