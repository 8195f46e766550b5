// Package main is the entry point for the realtime dashboard server.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"realtime-dashboard/internal/api"
	"realtime-dashboard/internal/config"
	"realtime-dashboard/internal/pricing"
	"realtime-dashboard/internal/realtime"
	"realtime-dashboard/internal/recorder"
	"realtime-dashboard/internal/session"
	"realtime-dashboard/internal/store"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	snapshots, err := store.NewStore(cfg.SessionsDBPath)
	if err != nil {
		log.Fatalf("Failed to open session store: %v", err)
	}
	defer snapshots.Close()

	book, err := pricing.NewBook(cfg.PricingFile)
	if err != nil {
		log.Fatalf("Failed to load pricing: %v", err)
	}

	relay := realtime.NewRelay()
	dialer := realtime.NewDialer(cfg.Realtime.URL, cfg.Realtime.ConnectTimeout)
	connector := recorder.New(dialer, cfg.CaptureDir)
	ctrl := session.NewController(relay, connector, book, session.Options{
		QueueSize:   cfg.EventQueueSize,
		LogCapacity: cfg.EventLogCapacity,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := book.Watch(ctx, ctrl.RefreshPricing); err != nil {
		log.Printf("Pricing file will not be watched: %v", err)
	}

	// Create server
	srv := api.NewServer(cfg, ctrl, relay, book, snapshots)
	router := api.NewRouter(srv)

	// Create HTTP server
	httpServer := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // Disable for streaming
		IdleTimeout:  120 * time.Second,
	}
	// Shutdown does not cancel request contexts; closing the controller ends
	// open update streams so their connections go idle.
	httpServer.RegisterOnShutdown(ctrl.Close)

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on %s", cfg.ServerAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
