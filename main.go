package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/xiaot623/llmgate/api"
	"github.com/xiaot623/llmgate/config"
	"github.com/xiaot623/llmgate/credential"
	"github.com/xiaot623/llmgate/domain"
	"github.com/xiaot623/llmgate/gateway"
	"github.com/xiaot623/llmgate/hub"
	"github.com/xiaot623/llmgate/policy"
	"github.com/xiaot623/llmgate/provider"
	"github.com/xiaot623/llmgate/session"
	"github.com/xiaot623/llmgate/store"
	"github.com/xiaot623/llmgate/ws"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting gateway...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("WebSocket Port: %d", cfg.WSPort)
	log.Printf("Database: %s", cfg.DatabaseURL)
	log.Printf("Default model: %s", cfg.DefaultModel)

	// Initialize store
	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := seedCatalog(ctx, cfg, db); err != nil {
		log.Fatalf("Failed to seed catalog: %v", err)
	}

	// Initialize credential store
	creds := credential.NewStore(db, cfg.MasterSecret)

	// Initialize provider registry
	registry := provider.NewRegistry()
	registry.Register(provider.NewOpenAIFactory("openai", "https://api.openai.com", "OPENAI_API_KEY", creds, cfg.LLMTimeout))
	registry.Register(provider.NewOpenAIFactory("deepseek", "https://api.deepseek.com", "DEEPSEEK_API_KEY", creds, cfg.LLMTimeout))
	registry.Register(provider.NewOpenAIFactory("local", "http://localhost:11434", "LOCAL_API_KEY", creds, cfg.LLMTimeout))

	// Initialize policy engine
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		log.Fatalf("Failed to initialize policy engine: %v", err)
	}

	// Initialize session manager and orchestrator
	sessions := session.NewManager(db)
	gw := gateway.New(cfg, db, sessions, registry, policyEngine)

	// Start the hub
	h := hub.New()
	go h.Run()

	// Create REST server
	restServer := echo.New()
	restServer.HideBanner = true
	restServer.Use(middleware.Logger())
	restServer.Use(middleware.Recover())
	restServer.Use(middleware.CORS())
	api.NewHandler(gw).RegisterRoutes(restServer)

	// Create WebSocket server
	wsEcho := echo.New()
	wsEcho.HideBanner = true
	wsEcho.Use(middleware.Recover())
	wsEcho.GET("/ws", ws.NewServer(cfg, h, gw).HandleWebSocket)

	// Start REST server
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := restServer.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start REST server: %v", err)
		}
	}()

	// Start WebSocket server
	go func() {
		addr := fmt.Sprintf(":%d", cfg.WSPort)
		if err := wsEcho.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start WebSocket server: %v", err)
		}
	}()

	log.Printf("REST API started on port %d", cfg.HTTPPort)
	log.Printf("WebSocket endpoint started on port %d", cfg.WSPort)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down gateway...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := restServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown REST server gracefully: %v", err)
	}
	if err := wsEcho.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown WebSocket server gracefully: %v", err)
	}

	log.Println("Gateway stopped")
}

// seedCatalog makes sure the default provider and model exist so a fresh
// database can serve exchanges immediately.
func seedCatalog(ctx context.Context, cfg *config.Config, db *store.SQLiteStore) error {
	model, err := db.GetModel(ctx, cfg.DefaultModel)
	if err != nil {
		return err
	}
	if model != nil {
		return nil
	}

	prov := &domain.Provider{
		ProviderID: "prov_" + uuid.New().String()[:8],
		Name:       "openai",
		CreatedAt:  time.Now().UTC(),
	}
	if err := db.UpsertProvider(ctx, prov); err != nil {
		return err
	}
	return db.UpsertModel(ctx, &domain.ModelInfo{
		ModelID:          cfg.DefaultModel,
		ProviderID:       prov.ProviderID,
		MaxContextTokens: cfg.MaxContextTokens,
		CostPerKInput:    0.00015,
		CostPerKOutput:   0.0006,
	})
}
