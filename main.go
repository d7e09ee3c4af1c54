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

	"trackpoint/api/database"
	"trackpoint/api/enrich"
	"trackpoint/api/handlers"
	"trackpoint/api/middleware"
	"trackpoint/api/store"
	"trackpoint/api/tracker"
)

func main() {
	// Load .env file at the very start
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found or error loading .env: %v", err)
	}

	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// --- Initialize PostgreSQL (visitor records + dashboard users) ---
	dbClient, err := database.NewPostgresDB()
	if err != nil {
		log.Fatalf("Failed to initialize PostgreSQL database: %v", err)
	}
	defer dbClient.Close()

	// --- Initialize ClickHouse (visit event log) ---
	chClient, err := database.NewClickHouseDB()
	if err != nil {
		log.Fatalf("Failed to initialize ClickHouse database: %v", err)
	}
	defer chClient.Close()

	// --- Initialize Stores ---
	visitorStore := store.NewVisitorStore(dbClient.DB)
	userStore := store.NewUserStore(dbClient.DB)
	eventStore := store.NewEventStore(chClient)

	schemaCtx, cancelSchema := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelSchema()
	if err := visitorStore.EnsureSchema(schemaCtx); err != nil {
		log.Fatalf("Failed to ensure visitors schema: %v", err)
	}
	if err := userStore.EnsureSchema(schemaCtx); err != nil {
		log.Fatalf("Failed to ensure users schema: %v", err)
	}
	if err := eventStore.EnsureSchema(schemaCtx); err != nil {
		log.Fatalf("Failed to ensure visit_events schema: %v", err)
	}

	// --- Initialize Enrichment Client ---
	// A missing key is an operator problem surfaced per request, as a
	// config-error response for first-time addresses, not a crash.
	var enricher enrich.Client
	if apiKey := os.Getenv("IPDATA_API_KEY"); apiKey != "" {
		enricher = enrich.NewHTTPClient(apiKey)
	} else {
		log.Println("IPDATA_API_KEY not set; first-time visitors cannot be enriched")
	}

	// --- Initialize Tracker + Handlers ---
	trackerService := tracker.NewService(visitorStore, eventStore, enricher)
	trackHandlers := handlers.NewTrackHandlers(trackerService)
	statsHandlers := handlers.NewStatsHandlers(eventStore, visitorStore)
	authHandlers := handlers.NewAuthHandlers(userStore)

	r := gin.Default()

	r.Use(middleware.CORSMiddleware())

	// Public tracking surface
	r.GET("/", trackHandlers.Health)
	r.GET("/track", trackHandlers.Track)

	api := r.Group("/api")
	{
		api.POST("/signup", authHandlers.Signup)
		api.POST("/login", authHandlers.Login)
		api.POST("/logout", authHandlers.Logout)

		// Dashboard routes (require a valid JWT token)
		protected := api.Group("/")
		protected.Use(middleware.AuthRequired())
		{
			protected.GET("/visitors/:address", statsHandlers.GetVisitor)

			statsGroup := protected.Group("/stats")
			{
				statsGroup.GET("/visits-over-time", statsHandlers.GetVisitsOverTime)
				statsGroup.GET("/unique-visitors", statsHandlers.GetUniqueVisitorsOverTime)
				statsGroup.GET("/top-countries", statsHandlers.GetTopCountries)
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
		log.Printf("Visitor tracking API starting on http://localhost:%s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("API server failed to start: %v", err)
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
