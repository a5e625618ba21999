package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/tenex-chat/tenex-sub006/internal/actions"
	"github.com/tenex-chat/tenex-sub006/internal/batch"
	"github.com/tenex-chat/tenex-sub006/internal/config"
	"github.com/tenex-chat/tenex-sub006/internal/dispatch"
	"github.com/tenex-chat/tenex-sub006/internal/eventsource"
	"github.com/tenex-chat/tenex-sub006/internal/interject"
	"github.com/tenex-chat/tenex-sub006/internal/model"
	"github.com/tenex-chat/tenex-sub006/internal/orchestrator"
	"github.com/tenex-chat/tenex-sub006/internal/pairing"
	"github.com/tenex-chat/tenex-sub006/internal/publish"
	"github.com/tenex-chat/tenex-sub006/internal/ral"
	"github.com/tenex-chat/tenex-sub006/internal/subscribers"
	"github.com/tenex-chat/tenex-sub006/internal/subscribers/logging"
	"github.com/tenex-chat/tenex-sub006/internal/subscribers/webhook"
	"github.com/tenex-chat/tenex-sub006/internal/types"
	"github.com/tenex-chat/tenex-sub006/internal/workspace"
)

func main() {
	_ = godotenv.Load()

	logger := log.New(os.Stdout, "orchestratord ", log.Ldate|log.Ltime|log.Lmicroseconds|log.LUTC)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid config: %v", err)
	}

	var store ral.Store
	var batches batch.Registry
	switch cfg.DBDriver {
	case "memory":
		store = ral.NewMemoryStore()
		batches = batch.NewMemoryRegistry()
	default:
		gormStore, err := ral.NewGormStore(cfg.DBDriver, cfg.DBDSN)
		if err != nil {
			logger.Fatalf("open record store: %v", err)
		}
		store = gormStore
		gormBatches, err := batch.NewGormRegistry(cfg.DBDriver, cfg.DBDSN)
		if err != nil {
			logger.Fatalf("open batch registry: %v", err)
		}
		batches = gormBatches
	}
	defer store.Close()

	source := eventsource.New(cfg.RelayWSURL)

	subs := []subscribers.Subscriber{
		logging.New(logger),
		&sourceSubscriber{source: source},
	}
	if cfg.WebhookURL != "" {
		subs = append(subs, webhook.New("webhook", cfg.WebhookURL, logger))
	}
	dispatcher := dispatch.New(logger, subs, dispatch.WithRetry(cfg.DispatchRetries, cfg.DispatchBackoff))

	publisher := publish.NewEventPublisher(logger, dispatcher, cfg.ComponentID)
	runner := model.NewHTTPRunner(logger, cfg.ModelBaseURL)
	interjector := interject.New(logger, store, publisher, interject.NewRunnerGenerator(runner),
		interject.WithDelay(cfg.InterjectDelay))
	defer interjector.Close()

	pairingProxy := &supervisorProxy{}
	workspaces := workspace.NewLocalProvisioner(cfg.WorkspaceDir)
	delegator := actions.NewDelegator(logger, publisher, batches, workspaces, pairingProxy)

	orch := orchestrator.New(logger, store, batches, runner, dispatcher,
		orchestrator.WithWatcher(interjector),
		orchestrator.WithActionExecutor(actions.NewExecutor(delegator)),
		orchestrator.WithActionDefinitions(model.DefaultActionDefinitions()),
		orchestrator.WithSystemPrompt(cfg.SystemPrompt),
		orchestrator.WithQueueSize(cfg.RunQueueSize),
	)
	supervisor := pairing.NewSupervisor(logger, orch)
	pairingProxy.supervisor = supervisor

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := source.Connect(ctx); err != nil {
		logger.Fatalf("connect relay: %v", err)
	}
	defer source.Close()
	logger.Printf("connected to relay at %s", cfg.RelayWSURL)

	for {
		select {
		case <-ctx.Done():
			return
		case <-source.Done():
			logger.Printf("relay connection closed")
			return
		case err := <-source.Errors():
			logger.Printf("event source error: %v", err)
		case event := <-source.Events():
			supervisor.Observe(ctx, event)
			if err := orch.HandleEvent(ctx, event); err != nil {
				logger.Printf("handle event %s: %v", event.EventID, err)
			}
		}
	}
}

// supervisorProxy breaks the construction cycle between the delegator and
// the pairing supervisor: the supervisor needs the orchestrator, and the
// orchestrator needs the delegator.
type supervisorProxy struct {
	supervisor *pairing.Supervisor
}

func (p *supervisorProxy) Open(ctx context.Context, delegationEventID, supervisorAgentID, supervisorConversationID string, interval int) {
	if p.supervisor != nil {
		p.supervisor.Open(ctx, delegationEventID, supervisorAgentID, supervisorConversationID, interval)
	}
}

// sourceSubscriber forwards locally published events back through the relay
// so recipients on other components see them.
type sourceSubscriber struct {
	source *eventsource.Source
}

func (s *sourceSubscriber) Name() string { return "relay" }

func (s *sourceSubscriber) Handle(ctx context.Context, event types.EventEnvelope) error {
	return s.source.SendEvent(ctx, event)
}
