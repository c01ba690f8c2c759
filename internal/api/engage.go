package api

import (
	"encoding/json"

	"github.com/gin-gonic/gin"

	"github.com/steemit/pulse/internal/heat"
	"github.com/steemit/pulse/internal/ranking"
)

const defaultHotLimit = 20

// recordInteraction handles engage.record_interaction
func (r *Router) recordInteraction(c *gin.Context, params json.RawMessage) (interface{}, error) {
	var p struct {
		ContentID string `json:"content_id"`
		Kind      string `json:"kind"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.ContentID == "" {
		return nil, invalidParams("missing required parameter: content_id")
	}
	kind, err := heat.ParseKind(p.Kind)
	if err != nil {
		return nil, invalidParams("%v", err)
	}
	return r.deps.Engagement.RecordInteraction(c.Request.Context(), p.ContentID, kind)
}

// getHot handles engage.get_hot
func (r *Router) getHot(c *gin.Context, params json.RawMessage) (interface{}, error) {
	p := struct {
		Limit int `json:"limit"`
	}{Limit: defaultHotLimit}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Limit > ranking.MaxLimit {
		return nil, invalidParams("limit must not exceed %d", ranking.MaxLimit)
	}
	entries, err := r.deps.Ranking.TopN(c.Request.Context(), p.Limit)
	if err != nil {
		return nil, err
	}
	return gin.H{"items": entries}, nil
}

// getStats handles engage.get_stats
func (r *Router) getStats(c *gin.Context, params json.RawMessage) (interface{}, error) {
	var p struct {
		ContentID string `json:"content_id"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.ContentID == "" {
		return nil, invalidParams("missing required parameter: content_id")
	}
	return r.deps.Ranking.Stats(c.Request.Context(), p.ContentID)
}
