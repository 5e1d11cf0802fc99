package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/imrishuroy/go-consistent-orders/internal/aws"
	"github.com/imrishuroy/go-consistent-orders/internal/catalog"
	"github.com/imrishuroy/go-consistent-orders/internal/config"
	"github.com/imrishuroy/go-consistent-orders/internal/idempotency"
	"github.com/imrishuroy/go-consistent-orders/internal/metrics"
	"github.com/imrishuroy/go-consistent-orders/internal/obs"
	"github.com/imrishuroy/go-consistent-orders/internal/orders"
	"github.com/imrishuroy/go-consistent-orders/internal/reconcile"
)

func newProcessor(cfg config.Config, clients *aws.AWSClients) *reconcile.Processor {
	var recorder metrics.Recorder = metrics.Nop{}
	if cfg.MetricsBackend == config.MetricsCloudWatch {
		recorder = metrics.NewCloudWatch(clients.CloudWatch, cfg.MetricsNamespace)
	}
	stock := catalog.NewStore(clients.DynamoDB, cfg.ProductsTable, cfg.ProductNamesTable)
	orderStore := orders.NewStore(clients.DynamoDB, cfg.OrdersTable)
	claims := idempotency.NewStore(clients.DynamoDB, cfg.IdempotencyTable, cfg.IdempotencyTTL)
	releaser := reconcile.NewReleaser(clients.DynamoDB, stock, orderStore, claims, recorder)
	return reconcile.NewProcessor(releaser, orderStore)
}

func main() {
	cfg := config.Load()
	obs.InitLogger(cfg.LogLevel)

	clients, err := aws.NewAWSClients(context.Background(), cfg.AWSMaxAttempts)
	if err != nil {
		obs.Logger.Error("aws_init_failed", "error", err.Error())
		os.Exit(1)
	}
	processor := newProcessor(cfg, clients)

	// If RUN_LOCAL=true, process a single SQS event for local testing.
	if cfg.RunLocal {
		testBody := os.Getenv("LOCAL_SQS_BODY")
		if testBody == "" {
			obs.Logger.Error("LOCAL_SQS_BODY is required when RUN_LOCAL=true")
			os.Exit(1)
		}
		event := events.SQSEvent{
			Records: []events.SQSMessage{
				{MessageId: "local-1", Body: testBody},
			},
		}
		if err := processor.Handle(context.Background(), event); err != nil {
			obs.Logger.Error("local_handler_failed", "error", err.Error())
			os.Exit(1)
		}
		return
	}

	lambda.Start(processor.Handle)
}
