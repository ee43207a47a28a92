package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/narrativeiq/backend/internal/queue"
	mid "github.com/narrativeiq/backend/internal/server/middleware"
	"github.com/narrativeiq/backend/internal/setup"
	"github.com/narrativeiq/backend/internal/storage"
	"github.com/narrativeiq/backend/internal/util"
	"github.com/narrativeiq/backend/pkg/graph"
	"github.com/narrativeiq/backend/pkg/leaselock"
	"github.com/narrativeiq/backend/pkg/ledger"
	"github.com/narrativeiq/backend/pkg/logger"
	"github.com/narrativeiq/backend/pkg/render"
	storepgx "github.com/narrativeiq/backend/pkg/store/pgx"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/go-playground/validator"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

// NewEcho builds the HTTP server around app.
func NewEcho(app *mid.App) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &CustomValidator{validator: validator.New()}

	e.Use(mid.AppContextMiddleware(app))
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("2M"))

	RegisterRoutes(e)
	return e
}

// RunMigrations applies every pending migration in dir.
func RunMigrations(databaseURL, dir string) error {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "postgres", driver)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	version, dirty, _ := m.Version()
	logger.Info("Database schema ready", "version", version, "dirty", dirty)
	return nil
}

func Init() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	databaseURL := util.GetEnv("DATABASE_URL")
	if err := RunMigrations(databaseURL, util.GetEnvString("MIGRATIONS_DIR", "migrations")); err != nil {
		logger.Fatal("Failed to migrate database", "err", err)
	}

	conn, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", "err", err)
	}
	defer conn.Close()

	jwksUrl := util.GetEnv("AUTH_URL") + "/jwks"
	k, err := keyfunc.NewDefaultCtx(ctx, []string{jwksUrl})
	if err != nil {
		logger.Fatal("Failed to load jwks keys", "err", err)
	}

	que, err := queue.Init()
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", "err", err)
	}
	defer que.Close()
	ch, err := que.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()
	if err := queue.SetupQueues(ch, []string{queue.AnalysisQueue}); err != nil {
		logger.Fatal("Failed to declare queues", "err", err)
	}

	s3, err := storage.NewS3Client(ctx)
	if err != nil {
		logger.Fatal("Failed to create S3 client", "err", err)
	}

	graphClient, err := setup.NewGraphClient(
		setup.AIConfigFromEnv(),
		int(util.GetEnvInt("MIN_MENTIONS", 2)),
	)
	if err != nil {
		logger.Fatal("Failed to create graph client", "err", err)
	}

	app := &mid.App{
		Graph:  graphClient,
		Layout: graph.NewLayoutEngine(int(util.GetEnvInt("LAYOUT_PARALLEL", 4))),
		Renderer: render.NewHTTPRenderer(render.NewHTTPRendererParams{
			URL:     util.GetEnv("RENDER_URL"),
			Timeout: util.GetEnvDuration("RENDER_TIMEOUT", 30*time.Second),
		}),
		Ledger:    ledger.NewPgxLedger(conn),
		Leases:    leaselock.New(conn),
		Documents: storage.NewDocumentStore(s3, util.GetEnvString("AWS_BUCKET", "narrative")),
		Analyses:  storepgx.NewAnalysisDBStorage(conn),
		Publisher: ch,
		S3:        s3,
		Key:       k,
		Costs: mid.Costs{
			Mindmap:      util.GetEnvInt("CREDIT_COST_MINDMAP", 2),
			MindmapImage: util.GetEnvInt("CREDIT_COST_MINDMAP_IMAGE", 3),
		},
		MaxDocumentBytes: util.GetEnvInt("MAX_DOCUMENT_BYTES", 4*graph.DefaultMaxInputChars),
		MasterAPIKey:     util.GetEnv("MASTER_API_KEY"),
		MasterUserID:     util.GetEnv("MASTER_USER_ID"),
		MasterUserRole:   util.GetEnv("MASTER_USER_ROLE"),
	}

	e := NewEcho(app)

	go func() {
		port := util.GetEnvString("PORT", "8080")
		logger.Info("Starting server", "port", port)
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}

	usage := graphClient.LLMMetrics()
	logger.Info("LLM usage",
		"requests", usage.Requests,
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
	)
}
