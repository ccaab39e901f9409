package billing

import (
	"log/slog"

	"github.com/dmitrymomot/billingkit/pkg/dunning"
	"github.com/dmitrymomot/billingkit/pkg/entitlement"
	"github.com/dmitrymomot/billingkit/pkg/gateway"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
	"github.com/dmitrymomot/billingkit/pkg/webhook"
)

// Deps are the collaborators the billing service routes between. All are
// required.
type Deps struct {
	Processor     *webhook.Processor
	Parser        gateway.Parser
	Subscriptions *subscription.Service
	Scheduler     *dunning.Scheduler
	Entitlements  *entitlement.Service
}

// Service glues the webhook boundary to the billing core.
type Service struct {
	cfg       Config
	processor *webhook.Processor
	parser    gateway.Parser
	subs      *subscription.Service
	scheduler *dunning.Scheduler
	ent       *entitlement.Service
	log       *slog.Logger
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// New creates the billing service and registers its event handlers on the
// processor. Panics on missing dependencies to fail fast during
// initialization.
func New(cfg Config, deps Deps, opts ...Option) *Service {
	if deps.Processor == nil {
		panic("billing: webhook processor is required")
	}
	if deps.Parser == nil {
		panic("billing: gateway parser is required")
	}
	if deps.Subscriptions == nil {
		panic("billing: subscription service is required")
	}
	if deps.Scheduler == nil {
		panic("billing: dunning scheduler is required")
	}
	if deps.Entitlements == nil {
		panic("billing: entitlement service is required")
	}

	if cfg.AdminPageSize <= 0 {
		cfg.AdminPageSize = 50
	}

	s := &Service{
		cfg:       cfg,
		processor: deps.Processor,
		parser:    deps.Parser,
		subs:      deps.Subscriptions,
		scheduler: deps.Scheduler,
		ent:       deps.Entitlements,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registerHandlers()
	return s
}

// registerHandlers binds normalized gateway event types to their routing
// logic. Registration happens once at startup.
func (s *Service) registerHandlers() {
	s.processor.RegisterHandler(string(gateway.EventPaymentFailed), s.handlePaymentFailed)
	s.processor.RegisterHandler(string(gateway.EventPaymentSucceeded), s.handlePaymentSucceeded)
	s.processor.RegisterHandler(string(gateway.EventSubscriptionRenewed), s.handleSubscriptionRenewed)
	s.processor.RegisterHandler(string(gateway.EventSubscriptionCanceled), s.handleSubscriptionCanceled)
	s.processor.RegisterHandler(string(gateway.EventSubscriptionPaused), s.handleSubscriptionPaused)
	s.processor.RegisterHandler(string(gateway.EventSubscriptionResumed), s.handleSubscriptionResumed)
}
