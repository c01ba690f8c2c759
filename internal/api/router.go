package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/steemit/pulse/internal/checkin"
	"github.com/steemit/pulse/internal/heat"
	"github.com/steemit/pulse/internal/models"
	"github.com/steemit/pulse/internal/ranking"
	"github.com/steemit/pulse/internal/syncer"
	"github.com/steemit/pulse/pkg/logging"
)

// Engagement records interactions
type Engagement interface {
	RecordInteraction(ctx context.Context, contentID string, kind heat.Kind) (*heat.Interaction, error)
}

// Ranking reads the heat index
type Ranking interface {
	TopN(ctx context.Context, limit int) ([]ranking.Entry, error)
	Stats(ctx context.Context, contentID string) (*heat.Snapshot, error)
}

// CheckIns runs daily check-ins
type CheckIns interface {
	CheckIn(ctx context.Context, userID string, loc *models.Location) (*checkin.Result, error)
	GetStatus(ctx context.Context, userID string) (*checkin.Status, error)
}

// Locator resolves a user's location from the client address
type Locator interface {
	Resolve(ctx context.Context, userID, ip string) (*models.Location, error)
}

// Seeder resyncs cached content from the durable store
type Seeder interface {
	SeedContentFromStore(ctx context.Context, force bool) (syncer.SeedReport, error)
}

// HealthChecker reports the health of a backing store
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Deps are the components the API invokes
type Deps struct {
	Engagement Engagement
	Ranking    Ranking
	CheckIns   CheckIns
	Locator    Locator
	Seeder     Seeder
	Cache      HealthChecker
	DB         HealthChecker
	AdminToken string
}

// Router sets up API routes
type Router struct {
	handler *JSONRPCHandler
	deps    Deps
	logger  *zap.Logger
}

// NewRouter creates a new API router
func NewRouter(deps Deps) *Router {
	router := &Router{
		handler: NewJSONRPCHandler(),
		deps:    deps,
		logger:  logging.GetLogger().With(zap.String("component", "api-router")),
	}

	router.registerMethods()

	return router
}

// SetupRoutes sets up all API routes
func (r *Router) SetupRoutes(engine *gin.Engine) {
	engine.GET("/health", r.healthHandler)
	engine.GET("/.well-known/healthcheck.json", r.healthHandler)

	engine.POST("/", r.handler.Handle)
}

func (r *Router) registerMethods() {
	r.handler.RegisterMethod("engage.record_interaction", r.recordInteraction)
	r.handler.RegisterMethod("engage.get_hot", r.getHot)
	r.handler.RegisterMethod("engage.get_stats", r.getStats)

	r.handler.RegisterMethod("checkin.check_in", r.checkIn)
	r.handler.RegisterMethod("checkin.get_status", r.getStatus)

	r.handler.RegisterMethod("admin.seed_content", r.seedContent)
}

// healthHandler reports 503 when the counter store is down; the durable store only degrades
func (r *Router) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	body := gin.H{
		"status":  "OK",
		"service": "pulse-api",
	}
	if r.deps.Cache != nil {
		if err := r.deps.Cache.Health(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "DOWN"
			body["redis"] = err.Error()
		} else {
			body["redis"] = "ok"
		}
	}
	if r.deps.DB != nil {
		if err := r.deps.DB.Health(ctx); err != nil {
			if status == http.StatusOK {
				body["status"] = "DEGRADED"
			}
			body["database"] = err.Error()
		} else {
			body["database"] = "ok"
		}
	}
	c.JSON(status, body)
}
