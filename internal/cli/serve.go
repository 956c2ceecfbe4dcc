package cli

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/corvid-labs/corvid/internal/api/handlers"
	"github.com/corvid-labs/corvid/internal/config"
	"github.com/corvid-labs/corvid/internal/database"
	"github.com/corvid-labs/corvid/internal/jobs"
	"github.com/corvid-labs/corvid/internal/openai"
	"github.com/corvid-labs/corvid/internal/repository"
	"github.com/corvid-labs/corvid/internal/server"
	"github.com/corvid-labs/corvid/internal/service"
	"github.com/corvid-labs/corvid/internal/storage"
	"github.com/corvid-labs/corvid/internal/telemetry"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	goopenai "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the corvid API server on the specified port",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if !cfg.HasOpenAI() {
		return fmt.Errorf("CORVID_OPENAI_API_KEY is required")
	}

	// Initialize Sentry with tracing if SENTRY_DSN is set
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		environment := os.Getenv("ENVIRONMENT")
		if environment == "" {
			environment = "development"
		}

		// Default to 10% sampling in production, 100% in development
		sampleRate := 0.1
		if environment == "development" {
			sampleRate = 1.0
		}

		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:              dsn,
			Environment:      environment,
			TracesSampleRate: sampleRate,
		})
		if err != nil {
			log.Printf("telemetry init failed (continuing without tracing): %v", err)
		} else {
			defer shutdownTelemetry()
		}
	}

	portFlag, _ := cmd.Flags().GetString("port")
	if portFlag != "" && portFlag != "8080" {
		cfg.Port = portFlag
	}

	// Run migrations unless --no-migrate flag is set. Migrations run before
	// the pool opens because the pool registers the pgvector codec, which
	// needs the extension installed.
	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	if !noMigrate {
		if err := runMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	pool, err := database.NewPool(ctx, database.Config{URL: cfg.DatabaseURL})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	log.Println("connected to database")

	knowledgeRepo := repository.NewKnowledgeRepository(pool)
	conversationRepo := repository.NewConversationRepository(pool)
	messageRepo := repository.NewMessageRepository(pool)
	personalityRepo := repository.NewPersonalityRepository(pool)
	feedbackRepo := repository.NewFeedbackRepository(pool)
	embeddingJobRepo := repository.NewEmbeddingJobRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	var files service.FileStore
	if cfg.HasS3() {
		s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    true,
		})
		if err != nil {
			return fmt.Errorf("failed to create S3 client: %w", err)
		}
		if err := s3Client.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("failed to ensure S3 bucket: %w", err)
		}
		log.Printf("S3 bucket '%s' ready", cfg.S3Bucket)
		files = s3Client
	}

	aiClient := openai.NewClientWithConfig(openai.Config{
		APIKey:         cfg.OpenAIAPIKey,
		ChatModel:      cfg.ChatModel,
		EmbeddingModel: goopenai.EmbeddingModel(cfg.EmbeddingModel),
	})

	embeddingSvc := service.NewEmbeddingService(aiClient, knowledgeRepo)
	embeddingProcessor := jobs.NewEmbeddingWorker(embeddingJobRepo, embeddingSvc)
	embeddingWorker := jobs.NewWorker(embeddingProcessor, 10*time.Second)
	go embeddingWorker.Start(ctx)
	log.Println("embedding worker started")

	searchSvc := service.NewSearchService(knowledgeRepo, aiClient)
	personalitySvc := service.NewPersonalityService(personalityRepo, searchSvc, aiClient, service.PersonalityConfig{
		AssistantName: cfg.AssistantName,
		AssistantTone: cfg.AssistantTone,
		CacheTTL:      cfg.PersonalityTTL,
	})
	chatSvc := service.NewChatService(conversationRepo, messageRepo, searchSvc, personalitySvc, aiClient)
	conversationSvc := service.NewConversationService(conversationRepo, messageRepo)
	knowledgeSvc := service.NewKnowledgeService(knowledgeRepo, embeddingJobRepo, txRunner, files)
	feedbackSvc := service.NewFeedbackService(feedbackRepo, messageRepo)

	router := server.NewRouter(server.RouterConfig{
		ChatHandler:         handlers.NewChatHandler(chatSvc),
		ConversationHandler: handlers.NewConversationHandler(conversationSvc),
		KnowledgeHandler:    handlers.NewKnowledgeHandler(knowledgeSvc),
		SearchHandler:       handlers.NewSearchHandler(searchSvc),
		PersonalityHandler:  handlers.NewPersonalityHandler(personalitySvc),
		FeedbackHandler:     handlers.NewFeedbackHandler(feedbackSvc),
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	embeddingWorker.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("server exited")
	return nil
}

func runMigrations(databaseURL string) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		"file://migrations",
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if err == migrate.ErrNilVersion {
		log.Println("migrations: database is up to date (no migrations applied)")
	} else if dirty {
		return fmt.Errorf("migration version %d is dirty - manual intervention required", version)
	} else if err == migrate.ErrNoChange {
		log.Printf("migrations: database is up to date (version %d)", version)
	} else {
		log.Printf("migrations: applied successfully (version %d)", version)
	}

	return nil
}
