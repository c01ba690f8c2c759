package api

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/steemit/pulse/internal/checkin"
	"github.com/steemit/pulse/internal/models"
)

// UserHeader carries the identity provider's stable user ID
const UserHeader = "X-User-ID"

type checkInRejected struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

func userID(c *gin.Context) (string, error) {
	id := strings.TrimSpace(c.GetHeader(UserHeader))
	if id == "" {
		return "", NewError(ErrCodeUnauthorized, "missing "+UserHeader+" header")
	}
	return id, nil
}

func clientAddr(c *gin.Context) string {
	if fwd := c.GetHeader("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return c.ClientIP()
}

// checkIn handles checkin.check_in. The location is best-effort and never fails the check-in.
func (r *Router) checkIn(c *gin.Context, _ json.RawMessage) (interface{}, error) {
	user, err := userID(c)
	if err != nil {
		return nil, err
	}
	ctx := c.Request.Context()

	var loc *models.Location
	if r.deps.Locator != nil {
		loc, err = r.deps.Locator.Resolve(ctx, user, clientAddr(c))
		if err != nil {
			r.logger.Debug("Check-in without location", zap.String("user_id", user), zap.Error(err))
			loc = nil
		}
	}

	res, err := r.deps.CheckIns.CheckIn(ctx, user, loc)
	if errors.Is(err, checkin.ErrAlreadyCheckedIn) {
		return checkInRejected{
			Success: false,
			Reason:  checkin.ReasonAlreadyCheckedIn,
			Message: "already checked in today",
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// getStatus handles checkin.get_status
func (r *Router) getStatus(c *gin.Context, _ json.RawMessage) (interface{}, error) {
	user, err := userID(c)
	if err != nil {
		return nil, err
	}
	return r.deps.CheckIns.GetStatus(c.Request.Context(), user)
}
