package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nanacinema/rcfinder/internal/api"
	"github.com/nanacinema/rcfinder/internal/config"
	"github.com/nanacinema/rcfinder/internal/gateway"
	"github.com/nanacinema/rcfinder/internal/policy"
	"github.com/nanacinema/rcfinder/internal/service"
	"github.com/nanacinema/rcfinder/internal/store"
	"github.com/nanacinema/rcfinder/internal/transport"
)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("config load failed", "error", err)
		os.Exit(1)
	}

	ledger, err := store.NewLedgerStore(cfg.DBSource, cfg.DefaultCredits)
	if err != nil {
		log.Error("store init failed", "error", err)
		os.Exit(1)
	}
	defer ledger.Close()

	ctx := context.Background()
	if err := ledger.InitSchema(ctx); err != nil {
		log.Error("schema init failed", "error", err)
		os.Exit(1)
	}

	// Persist the configured admin capability set so admin accounts exist
	// before their first message.
	for _, id := range cfg.AdminIDs {
		if err := ledger.SetAdmin(ctx, id, true); err != nil {
			log.Error("admin bootstrap failed", "user_id", id, "error", err)
			os.Exit(1)
		}
	}

	var messenger service.Messenger
	if cfg.DeliveryURL != "" {
		messenger = transport.NewWebhookMessenger(cfg.DeliveryURL)
	} else {
		log.Warn("DELIVERY_URL not set, broadcasts will be logged only")
		messenger = logMessenger{log: log}
	}

	pol := policy.New(cfg.AdminIDs, cfg.LookupCost)
	gw := gateway.New(cfg.APIBase, cfg.LookupTimeout)
	broadcaster := service.NewBroadcaster(ledger, messenger, cfg.BroadcastConcurrency, log)
	cooldown := service.NewCooldown(cfg.LookupCooldown)
	dispatcher := service.NewDispatcher(ledger, gw, pol, broadcaster, cooldown, cfg.LookupCost, cfg.AdminIDs, log)

	handler := api.NewHandler(dispatcher, ledger)

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", handler.Health).Methods("GET")

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.HandleFunc("/commands", handler.PostCommand).Methods("POST")
	apiV1.HandleFunc("/accounts/{id}", handler.GetAccount).Methods("GET")
	apiV1.HandleFunc("/accounts/{id}/log", handler.GetAccountLog).Methods("GET")

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	stopCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err)
			stop()
		}
	}()

	<-stopCtx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown failed", "error", err)
	}
}

// logMessenger stands in when no delivery hook is configured, such as in
// local development.
type logMessenger struct {
	log *slog.Logger
}

func (m logMessenger) Send(_ context.Context, userID, text string) error {
	m.log.Info("broadcast delivery", "user_id", userID, "text", text)
	return nil
}
