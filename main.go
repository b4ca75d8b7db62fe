// api/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"pricely/telemetry/database"
	"pricely/telemetry/handlers"
	"pricely/telemetry/middleware"
	"pricely/telemetry/store"
)

func main() {
	// Load .env file at the very start
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found or error loading .env: %v", err)
	}

	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// --- Initialize PostgreSQL Database (users + sessions) ---
	dbClient, err := database.NewPostgresDB()
	if err != nil {
		log.Fatalf("Failed to initialize PostgreSQL database: %v", err)
	}
	defer dbClient.Close()

	// --- Initialize ClickHouse Database (interaction events) ---
	chClient, err := database.NewClickHouseDB()
	if err != nil {
		log.Fatalf("Failed to initialize ClickHouse database: %v", err)
	}
	defer chClient.Close()

	// --- Initialize Redis (optional active-session cache) ---
	redisClient, err := database.NewRedisClient()
	if err != nil {
		log.Fatalf("Failed to initialize Redis: %v", err)
	}
	defer redisClient.Close()

	// --- Initialize Stores ---
	userStore := store.NewUserStore(dbClient.DB)
	eventStore := store.NewClickHouseEventStore(chClient)
	summarizer := store.NewClickHouseSummarizer(chClient)
	pgSessions := store.NewPostgresSessionStore(dbClient.DB)

	var sessionStore store.SessionStore = pgSessions
	if redisClient != nil {
		sessionStore = store.NewCachedSessionStore(pgSessions, redisClient.Client)
	}

	schemaCtx, cancelSchema := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelSchema()
	if err := userStore.EnsureSchema(schemaCtx); err != nil {
		log.Fatalf("Failed to ensure users schema: %v", err)
	}
	if err := pgSessions.EnsureSchema(schemaCtx); err != nil {
		log.Fatalf("Failed to ensure sessions schema: %v", err)
	}
	if err := eventStore.EnsureSchema(schemaCtx); err != nil {
		log.Fatalf("Failed to ensure events schema: %v", err)
	}

	// --- Initialize Handlers ---
	authHandlers := handlers.NewAuthHandlers(userStore, sessionStore)
	trackHandlers := handlers.NewTrackHandlers(eventStore, sessionStore)
	reportHandlers := handlers.NewReportHandlers(summarizer)

	r := gin.Default()

	r.Use(middleware.CORSMiddleware())

	api := r.Group("/api")
	{
		// Identity endpoints (no authentication required)
		api.POST("/signup", authHandlers.Signup)
		api.POST("/login", authHandlers.Login)
		api.POST("/logout", middleware.Identify(), authHandlers.Logout)

		// Ingestion: anonymous instrumentation is accepted and tagged.
		ingest := api.Group("/")
		ingest.Use(middleware.Identify())
		{
			ingest.POST("/events", trackHandlers.TrackEvent)
			ingest.POST("/sessions", trackHandlers.NewSession)
		}

		// User-scoped reads and session control require a credential.
		protected := api.Group("/")
		protected.Use(middleware.AuthRequired())
		{
			protected.POST("/sessions/:userId/end", trackHandlers.EndSession)
			protected.GET("/sessions/:userId/active", trackHandlers.ActiveSession)
			protected.GET("/events/session/:sessionId", trackHandlers.SessionEvents)
			protected.GET("/events/user/:userId", trackHandlers.UserEvents)
			protected.GET("/events/page/*pagePath", trackHandlers.PageEvents)

			reports := protected.Group("/reports")
			{
				reports.GET("/:userId/summary", reportHandlers.Summary)
				reports.GET("/:userId/phone-history", reportHandlers.PhoneHistory)
			}
		}
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	go func() {
		log.Printf("Telemetry API server starting on http://localhost:%s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Telemetry API server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting.")
}
