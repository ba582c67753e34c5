package bootstrap

import (
	"context"
	"fmt"

	"github.com/docuflow/review-engine/internal/config"
	"github.com/docuflow/review-engine/internal/core/domain"
	"github.com/docuflow/review-engine/internal/core/ports"
	"github.com/docuflow/review-engine/internal/core/usecase"
	"github.com/docuflow/review-engine/internal/infrastructure/analyzer/visionhttp"
	"github.com/docuflow/review-engine/internal/infrastructure/queue/nats"
	"github.com/docuflow/review-engine/internal/infrastructure/registry/memory"
	"github.com/docuflow/review-engine/internal/infrastructure/registry/postgres"
	"github.com/docuflow/review-engine/internal/infrastructure/resilience"
)

// dataStore is the combined persistence surface both store drivers
// implement.
type dataStore interface {
	ports.DocumentRegistry
	ports.ReviewQueue
	ports.DecisionLog
}

type App struct {
	Config config.Config
	Policy domain.ReviewPolicy

	Events   ports.MessageQueue
	Registry ports.DocumentRegistry
	Queue    ports.ReviewQueue

	IngestUC  ports.DocumentIngestor
	RouteUC   ports.AnalysisRouter
	ProcessUC ports.DocumentProcessor
	ReviewUC  ports.ReviewService
	ReportUC  ports.ReviewReporter

	closeFn func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	policy, err := config.LoadReviewPolicy(cfg.ReviewPolicyFile, domain.Thresholds{
		High: cfg.ConfidenceHigh,
		Low:  cfg.ConfidenceLow,
	})
	if err != nil {
		closeStore()
		return nil, fmt.Errorf("load review policy: %w", err)
	}

	executor := resilience.NewExecutor(resilience.DefaultConfig())

	events, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSAnalyzeSubject, cfg.NATSRoutedSubject, nats.Options{
		ResilienceExecutor: executor,
	})
	if err != nil {
		closeStore()
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	analyzer := visionhttp.New(cfg.AnalyzerURL, cfg.AnalyzerModel,
		visionhttp.WithResilienceExecutor(executor))

	routeUC := usecase.NewRouteAnalysisUseCase(store, store, store, events, policy)

	return &App{
		Config: cfg,
		Policy: policy,

		Events:   events,
		Registry: store,
		Queue:    store,

		IngestUC:  usecase.NewIngestDocumentUseCase(store, events),
		RouteUC:   routeUC,
		ProcessUC: usecase.NewProcessDocumentUseCase(store, analyzer, routeUC),
		ReviewUC:  usecase.NewReviewUseCase(store, store, store, cfg.ClaimLease),
		ReportUC:  usecase.NewReportUseCase(store, store, store),

		closeFn: func() {
			events.Close()
			closeStore()
		},
	}, nil
}

func openStore(ctx context.Context, cfg config.Config) (dataStore, func(), error) {
	switch cfg.StoreDriver {
	case "memory":
		return memory.NewStore(), func() {}, nil
	case "postgres":
		db, err := postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		store := postgres.NewStore(db)
		if err := store.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
		return store, func() { _ = db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
