package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/taketaketaketake/bol-sub000/internal/payments"
	"github.com/taketaketaketake/bol-sub000/internal/platform/auth"
	"github.com/taketaketaketake/bol-sub000/internal/platform/config"
	pstorage "github.com/taketaketaketake/bol-sub000/internal/platform/storage"
	"github.com/taketaketaketake/bol-sub000/internal/repositories"
	"github.com/taketaketaketake/bol-sub000/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete
// implementations are assembled via dependency injection in NewContainer.
type Services struct {
	Orders        services.OrderService
	Billing       services.BillingService
	Customers     services.CustomerService
	Memberships   services.MembershipService
	Photos        services.PhotoService
	Notifications services.NotificationService
	Routing       services.RoutingService
	Audit         services.AuditLogService
	System        services.SystemService
}

// Dependencies carries the externally constructed collaborators the service
// layer needs: clients that main builds once and shares across services.
type Dependencies struct {
	Registry repositories.Registry
	Firebase auth.UserGetter
	Payments *payments.Manager
	Events   services.EventPublisher
	Email    services.EmailSender
	SMS      services.SMSSender
	Photos   *pstorage.Client
	Build    services.BuildInfo
	Logger   *zap.Logger
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependency graph. Production wiring
// provides real clients, while tests can supply in-memory registries and stubs.
func NewContainer(cfg config.Config, deps Dependencies) (*Container, error) {
	if deps.Registry == nil {
		return nil, errors.New("repositories registry is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("payment manager is required")
	}

	svc, err := buildServices(cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: deps.Registry,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(cfg config.Config, deps Dependencies) (Services, error) {
	var svc Services
	reg := deps.Registry

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if auditRepo := reg.AuditLogs(); auditRepo != nil {
		auditSvc, err := services.NewAuditLogService(services.AuditLogServiceDeps{
			Repository: auditRepo,
			Clock:      time.Now,
			Logger:     logger.Named("audit").Sugar(),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build audit log service: %w", err)
		}
		svc.Audit = auditSvc
	}

	customerSvc, err := services.NewCustomerService(services.CustomerServiceDeps{
		Customers: reg.Customers(),
		Firebase:  deps.Firebase,
		Audit:     svc.Audit,
		Clock:     time.Now,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build customer service: %w", err)
	}
	svc.Customers = customerSvc

	membershipSvc, err := services.NewMembershipService(services.MembershipServiceDeps{
		Memberships: reg.Memberships(),
		Customers:   reg.Customers(),
		Clock:       time.Now,
		Logger:      eventLogger(logger.Named("membership")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build membership service: %w", err)
	}
	svc.Memberships = membershipSvc

	if cfg.Features.EnableAutoAssign {
		routingSvc, err := services.NewRoutingService(services.RoutingServiceDeps{
			Laundromats: reg.Laundromats(),
			Clock:       time.Now,
			Logger:      eventLogger(logger.Named("routing")),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build routing service: %w", err)
		}
		svc.Routing = routingSvc
	}

	if notificationRepo := reg.Notifications(); notificationRepo != nil {
		sms := deps.SMS
		if !cfg.Features.EnableSMSNotifications {
			sms = nil
		}
		notificationSvc, err := services.NewNotificationService(services.NotificationServiceDeps{
			Notifications: notificationRepo,
			Email:         deps.Email,
			SMS:           sms,
			Clock:         time.Now,
			Logger:        eventLogger(logger.Named("notify")),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build notification service: %w", err)
		}
		svc.Notifications = notificationSvc
	}

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:        reg.Orders(),
		StatusHistory: reg.StatusHistory(),
		Messages:      reg.Messages(),
		Refunds:       reg.Refunds(),
		Customers:     svc.Customers,
		Memberships:   svc.Memberships,
		Routing:       svc.Routing,
		Notifications: svc.Notifications,
		Audit:         svc.Audit,
		Payments:      deps.Payments,
		Events:        deps.Events,
		Currency:      cfg.PSP.Currency,
		Clock:         time.Now,
		Logger:        eventLogger(logger.Named("orders")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	billingSvc, err := services.NewBillingService(services.BillingServiceDeps{
		Orders:   reg.Orders(),
		Refunds:  reg.Refunds(),
		Audit:    svc.Audit,
		Payments: deps.Payments,
		Events:   deps.Events,
		Currency: cfg.PSP.Currency,
		Clock:    time.Now,
		Logger:   eventLogger(logger.Named("billing")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build billing service: %w", err)
	}
	svc.Billing = billingSvc

	if deps.Photos != nil {
		photoSvc, err := services.NewPhotoService(services.PhotoServiceDeps{
			Orders:  reg.Orders(),
			Storage: deps.Photos,
			Bucket:  cfg.Storage.PhotosBucket,
			Clock:   time.Now,
			Logger:  eventLogger(logger.Named("photos")),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build photo service: %w", err)
		}
		svc.Photos = photoSvc
	}

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            time.Now,
			Build:            deps.Build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}

// eventLogger adapts a zap logger to the event-callback shape services log with.
func eventLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Debug("service event", zFields...)
	}
}
