package api

import (
	"crypto/subtle"
	"encoding/json"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AdminHeader carries the admin token
const AdminHeader = "X-Admin-Token"

func (r *Router) requireAdmin(c *gin.Context) error {
	token := c.GetHeader(AdminHeader)
	if r.deps.AdminToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(r.deps.AdminToken)) != 1 {
		return NewError(ErrCodeUnauthorized, "admin token required")
	}
	return nil
}

// seedContent handles admin.seed_content: reseeds content counters and scores
// from the durable store. Without force an existing heat index is kept.
func (r *Router) seedContent(c *gin.Context, params json.RawMessage) (interface{}, error) {
	if err := r.requireAdmin(c); err != nil {
		return nil, err
	}
	var p struct {
		Force bool `json:"force"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	report, err := r.deps.Seeder.SeedContentFromStore(c.Request.Context(), p.Force)
	if err != nil {
		return nil, err
	}
	r.logger.Info("Admin seed completed",
		zap.Bool("force", p.Force),
		zap.Int("content", report.Content),
		zap.Int("skipped", report.Skipped))
	return report, nil
}
