package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/narrativeiq/backend/internal/queue"
	"github.com/narrativeiq/backend/internal/storage"
	"github.com/narrativeiq/backend/internal/util"
	"github.com/narrativeiq/backend/pkg/ledger"
	"github.com/narrativeiq/backend/pkg/logger"
	"github.com/narrativeiq/backend/pkg/logger/console"
	storepgx "github.com/narrativeiq/backend/pkg/store/pgx"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  util.GetEnvBool("DEBUG", false),
		Format: util.GetEnvString("LOG_FORMAT", "text"),
		Prefix: "worker",
	})
	logger.Init(consoleLogger)

	// Init s3 client
	s3Client, err := storage.NewS3Client(ctx)
	if err != nil {
		logger.Fatal("Could not create S3 client", "err", err)
	}
	documents := storage.NewDocumentStore(s3Client, util.GetEnvString("AWS_BUCKET", "narrative"))

	// Init pgx client
	pgConn, err := pgxpool.New(ctx, util.GetEnv("DATABASE_URL"))
	if err != nil {
		logger.Fatal("Unable to connect to database", "err", err)
	}
	defer pgConn.Close()
	analyses := storepgx.NewAnalysisDBStorage(pgConn)
	credits := ledger.NewPgxLedger(pgConn)

	// Init rabbitmq
	conn, err := queue.Init()
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", "err", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch, []string{queue.AnalysisQueue}); err != nil {
		logger.Fatal("Failed to declare queues", "err", err)
	}

	// Release reservations left pending by a crashed server.
	go sweepReservations(ctx, credits,
		util.GetEnvDuration("RESERVATION_TTL", 15*time.Minute),
		util.GetEnvDuration("RESERVATION_SWEEP_INTERVAL", time.Minute),
	)

	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	err = consumerCh.Qos(int(util.GetEnvInt("WORKER_PREFETCH", 4)), 0, false)
	if err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	msgs, err := consumerCh.Consume(
		queue.AnalysisQueue,
		fmt.Sprintf("%s_consumer", queue.AnalysisQueue),
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,   // args
	)
	if err != nil {
		logger.Fatal("Failed to start consuming", "queue", queue.AnalysisQueue, "err", err)
	}

	logger.Info("Listening for messages", "queue", queue.AnalysisQueue)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutdown signal received, exiting...")
			return
		case msg, ok := <-msgs:
			if !ok {
				logger.Info("Message channel closed", "queue", queue.AnalysisQueue)
				return
			}
			handleMessage(ctx, ch, documents, analyses, msg)
		}
	}
}

func handleMessage(
	ctx context.Context,
	ch *amqp.Channel,
	documents *storage.DocumentStore,
	analyses *storepgx.AnalysisDBStorage,
	msg amqp.Delivery,
) {
	startTime := time.Now()

	msgCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	if err := queue.ProcessAnalysisMessage(msgCtx, documents, analyses, msg.Body); err != nil {
		logger.Error("Error processing message", "queue", queue.AnalysisQueue, "err", err)
		queue.HandleFailure(context.WithoutCancel(ctx), ch, msg, queue.AnalysisQueue, err, queue.DefaultMaxRetries)
		return
	}

	if err := msg.Ack(false); err != nil {
		logger.Error("Failed to ack message", "err", err)
	}
	logger.Debug("Message processed successfully", "queue", queue.AnalysisQueue, "duration", time.Since(startTime))
}

func sweepReservations(ctx context.Context, l ledger.Ledger, ttl, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			released, err := l.ReleaseExpired(ctx, ttl)
			if err != nil {
				logger.Error("[Ledger] Failed to release expired reservations", "err", err)
				continue
			}
			if released > 0 {
				logger.Warn("[Ledger] Released expired reservations", "count", released, "ttl", ttl)
			}
		}
	}
}
