package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/estoque-labs/goal-engine/internal/config"
	"github.com/estoque-labs/goal-engine/internal/database"
	"github.com/estoque-labs/goal-engine/internal/dispatch"
	"github.com/estoque-labs/goal-engine/internal/handlers"
	"github.com/estoque-labs/goal-engine/internal/messaging"
	"github.com/estoque-labs/goal-engine/internal/repository"
	"github.com/estoque-labs/goal-engine/internal/retry"
	"github.com/estoque-labs/goal-engine/internal/scheduler"
	"github.com/estoque-labs/goal-engine/internal/services"
	"github.com/estoque-labs/goal-engine/pkg/logger"
	"github.com/estoque-labs/goal-engine/pkg/middleware"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

func main() {
	// Load configuration from .env file
	cfg := config.LoadConfig()

	logger.InitLogger()
	logger.Log.Info("Logger initialized")

	// Connect to MongoDB
	db, client, err := database.ConnectDB(cfg)
	if err != nil {
		log.Fatalf("Database connection error: %v", err)
	}
	defer database.Disconnect(client)

	// --- Repositories ---
	resourceRepo := repository.NewResourceRepository(db)
	goalRepo := repository.NewGoalRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	preferenceRepo := repository.NewPreferenceRepository(db)

	// --- Collaborators ---
	messenger := messaging.NewWebhookMessenger(cfg.GatewayURL)
	executor := retry.NewExecutor()

	workerCtx, stopWorker := context.WithCancel(context.Background())
	worker := dispatch.NewWorker(cfg.DispatchQueueSize)
	worker.Start(workerCtx)

	// --- Services ---
	notificationService := services.NewNotificationService(notificationRepo, preferenceRepo, messenger)
	ledgerService := services.NewLedgerService(resourceRepo, goalRepo, preferenceRepo, notificationService, executor, worker, cfg.ManagementChannelID)
	goalService := services.NewGoalService(goalRepo, resourceRepo, notificationService, executor, cfg.ManagementChannelID)

	// --- Handlers ---
	resourceHandler := handlers.NewResourceHandler(ledgerService)
	goalHandler := handlers.NewGoalHandler(goalService)
	notificationHandler := handlers.NewNotificationHandler(notificationService)

	// Initialize Gorilla Mux router
	router := mux.NewRouter()
	router.Use(middleware.LoggingMiddleware)

	protected := router.PathPrefix("/").Subrouter()
	protected.Use(middleware.AuthMiddleware(cfg.JWTSecret))

	protected.HandleFunc("/resources", resourceHandler.CreateResourceHandler).Methods("POST")
	protected.HandleFunc("/resources", resourceHandler.ListResourcesHandler).Methods("GET")
	protected.HandleFunc("/resources/{name}", resourceHandler.GetResourceHandler).Methods("GET")
	protected.HandleFunc("/resources/{name}/entries", resourceHandler.AddEntryHandler).Methods("POST")
	protected.HandleFunc("/resources/{name}/withdrawals", resourceHandler.WithdrawHandler).Methods("POST")
	protected.HandleFunc("/resources/{name}/active", resourceHandler.SetActiveHandler).Methods("PATCH")

	protected.HandleFunc("/goals", goalHandler.DefineGoalHandler).Methods("POST")
	protected.HandleFunc("/goals", goalHandler.ListGoalsHandler).Methods("GET")
	protected.HandleFunc("/goals/reset", goalHandler.ResetHandler).Methods("POST")
	protected.HandleFunc("/summary", goalHandler.SummaryHandler).Methods("GET")

	protected.HandleFunc("/notifications", notificationHandler.ListUnreadHandler).Methods("GET")
	protected.HandleFunc("/notifications/read-all", notificationHandler.MarkAllReadHandler).Methods("POST")
	protected.HandleFunc("/notifications/{id}/read", notificationHandler.MarkReadHandler).Methods("POST")

	protected.HandleFunc("/preferences", notificationHandler.GetPreferenceHandler).Methods("GET")
	protected.HandleFunc("/preferences", notificationHandler.UpdatePreferenceHandler).Methods("PUT")

	// Scheduled summaries, reminders and alerts
	cronRunner := scheduler.StartGoalCronJobs(cfg, goalService)
	defer cronRunner.Stop()

	c := cors.New(cors.Options{
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})
	handler := c.Handler(router)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handler,
	}

	go func() {
		fmt.Printf("Server running on port %s\n", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Drain the dispatch queue before exiting so queued notifications go out.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down")
	_ = server.Shutdown(context.Background())
	stopWorker()
	<-worker.Done()
}
