package main

import (
	"context"
	"net/http"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-consistent-orders/internal/aws"
	"github.com/imrishuroy/go-consistent-orders/internal/catalog"
	"github.com/imrishuroy/go-consistent-orders/internal/config"
	"github.com/imrishuroy/go-consistent-orders/internal/customers"
	orderevents "github.com/imrishuroy/go-consistent-orders/internal/events"
	"github.com/imrishuroy/go-consistent-orders/internal/handlers"
	"github.com/imrishuroy/go-consistent-orders/internal/idempotency"
	"github.com/imrishuroy/go-consistent-orders/internal/metrics"
	"github.com/imrishuroy/go-consistent-orders/internal/obs"
	"github.com/imrishuroy/go-consistent-orders/internal/orders"
	"github.com/imrishuroy/go-consistent-orders/internal/placement"
	"github.com/imrishuroy/go-consistent-orders/internal/reconcile"
	"github.com/imrishuroy/go-consistent-orders/internal/registration"
)

// newRecorder picks the metrics backend; the http.Handler is non-nil only for Prometheus.
func newRecorder(cfg config.Config, clients *aws.AWSClients) (metrics.Recorder, http.Handler) {
	switch cfg.MetricsBackend {
	case config.MetricsCloudWatch:
		return metrics.NewCloudWatch(clients.CloudWatch, cfg.MetricsNamespace), nil
	case config.MetricsNone:
		return metrics.Nop{}, nil
	default:
		reg := metrics.NewRegistry()
		return reg, reg.Handler()
	}
}

func setupRouter(cfg config.Config, clients *aws.AWSClients) (*gin.Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	recorder, metricsHandler := newRecorder(cfg, clients)

	customerStore := customers.NewStore(clients.DynamoDB, cfg.CustomersTable)
	stock := catalog.NewStore(clients.DynamoDB, cfg.ProductsTable, cfg.ProductNamesTable)
	orderStore := orders.NewStore(clients.DynamoDB, cfg.OrdersTable)
	idempStore := idempotency.NewStore(clients.DynamoDB, cfg.IdempotencyTable, cfg.IdempotencyTTL)

	var sender orderevents.Sender
	if cfg.EventsQueueURL != "" {
		sender = aws.NewPublisher(clients.SQS, cfg.EventsQueueURL)
	}
	publisher := orderevents.NewPublisher(sender)

	var committer placement.Committer
	if cfg.PlacementMode == config.ModeSaga {
		releaser := reconcile.NewReleaser(clients.DynamoDB, stock, orderStore, idempStore, recorder)
		committer = placement.NewSaga(stock, orderStore, idempStore, releaser, publisher)
	} else {
		committer = placement.NewTxCommitter(orderStore, stock)
	}

	svc := placement.NewService(customerStore, stock, committer,
		placement.WithCommitTimeout(cfg.CommitTimeout),
		placement.WithMetrics(recorder),
		placement.WithNotifier(publisher),
	)

	obs.Logger.Info("api_configured",
		"placement_mode", cfg.PlacementMode,
		"metrics_backend", cfg.MetricsBackend,
		"events_enabled", cfg.EventsQueueURL != "",
	)

	r := handlers.NewRouter(handlers.HandlerConfig{
		Placer:      svc,
		Registrar:   registration.NewService(stock),
		Orders:      orderStore,
		Products:    stock,
		Customers:   customerStore,
		Idempotency: idempStore,
		Metrics:     metricsHandler,
	})
	return r, nil
}

func main() {
	cfg := config.Load()
	obs.InitLogger(cfg.LogLevel)

	clients, err := aws.NewAWSClients(context.Background(), cfg.AWSMaxAttempts)
	if err != nil {
		obs.Logger.Error("aws_init_failed", "error", err.Error())
		os.Exit(1)
	}

	r, err := setupRouter(cfg, clients)
	if err != nil {
		obs.Logger.Error("config_invalid", "error", err.Error())
		os.Exit(1)
	}

	// if environment variable RUN_LOCAL is set to "true", run local HTTP server for development.
	if cfg.RunLocal {
		obs.Logger.Info("running local server", "addr", cfg.HTTPAddr)
		if err := r.Run(cfg.HTTPAddr); err != nil {
			obs.Logger.Error("local_server_failed", "error", err.Error())
			os.Exit(1)
		}
		return
	}

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
