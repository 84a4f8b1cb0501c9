package audit

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/yothgewalt/discount-card-portal-server/internal/container"
	"github.com/yothgewalt/discount-card-portal-server/package/mongo"
)

const ServiceName = "audit"

type AuditModule struct {
	container.BaseModule
	reader Reader
}

func NewAuditModule() *AuditModule {
	return &AuditModule{
		BaseModule: container.NewBaseModule(
			"audit",
			"1.0.0",
			"Operator audit trail",
			nil,
		),
	}
}

// RegisterServices stores the trail in MongoDB when it is configured and
// falls back to the log otherwise.
func (m *AuditModule) RegisterServices(registry *container.ServiceRegistry) error {
	logger := registry.Logger()
	mongoService := registry.GetMongo()
	if mongoService == nil {
		logger.Info().Msg("MongoDB disabled, audit records go to the log")
		return registry.RegisterService(ServiceName, Recorder(NewLogRecorder(logger)))
	}

	cfg := registry.GetConfig()
	recorder := NewMongoRecorder(mongo.NewRepository[Record](mongoService, cfg.MongoDB.AuditCollection))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := recorder.EnsureIndexes(ctx); err != nil {
		logger.Warn().Err(err).Msg("failed to create audit indexes")
	}

	m.reader = recorder
	return registry.RegisterService(ServiceName, Recorder(recorder))
}

func (m *AuditModule) RegisterRoutes(router fiber.Router, registry *container.ServiceRegistry) error {
	guards, err := container.Guards(registry, container.VisitorGuard, container.AdminGuard)
	if err != nil {
		return err
	}

	handler := NewAuditHandler(m.reader)
	group := router.Group("/admin/audit", guards...)
	group.Get("/", handler.List)

	return nil
}
