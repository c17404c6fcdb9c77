package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	billingeventdomain "github.com/rumbosoft/rumbo/internal/billingevent/domain"
	"github.com/rumbosoft/rumbo/pkg/db/pagination"
	"gorm.io/datatypes"
)

type listBillingEventsQuery struct {
	pagination.Pagination
	EventType  string `form:"event_type"`
	TargetType string `form:"target_type"`
	TargetID   string `form:"target_id"`
	ActorType  string `form:"actor_type"`
	StartAt    string `form:"start_at"`
	EndAt      string `form:"end_at"`
}

type billingEventView struct {
	ID         string            `json:"id"`
	TenantID   *string           `json:"tenant_id,omitempty"`
	EventType  string            `json:"event_type"`
	ActorType  string            `json:"actor_type"`
	ActorID    *string           `json:"actor_id,omitempty"`
	TargetType string            `json:"target_type"`
	TargetID   *string           `json:"target_id,omitempty"`
	Payload    datatypes.JSONMap `json:"payload,omitempty"`
	IPAddress  *string           `json:"ip_address,omitempty"`
	UserAgent  *string           `json:"user_agent,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

type listBillingEventsResponse struct {
	pagination.PageInfo
	Events []billingEventView `json:"events"`
}

func (s *Server) ListBillingEvents(c *gin.Context) {
	var query listBillingEventsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	startAt, err := parseOptionalTime(query.StartAt)
	if err != nil {
		AbortWithError(c, newValidationError("start_at", "invalid_start_at", "start_at must be RFC3339"))
		return
	}
	endAt, err := parseOptionalTime(query.EndAt)
	if err != nil {
		AbortWithError(c, newValidationError("end_at", "invalid_end_at", "end_at must be RFC3339"))
		return
	}

	resp, err := s.eventSvc.List(c.Request.Context(), billingeventdomain.ListEventsRequest{
		Pagination: query.Pagination,
		EventType:  strings.TrimSpace(query.EventType),
		TargetType: strings.TrimSpace(query.TargetType),
		TargetID:   strings.TrimSpace(query.TargetID),
		ActorType:  strings.TrimSpace(query.ActorType),
		StartAt:    startAt,
		EndAt:      endAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	views := make([]billingEventView, 0, len(resp.Events))
	for i := range resp.Events {
		views = append(views, viewOfBillingEvent(&resp.Events[i]))
	}
	c.JSON(http.StatusOK, gin.H{"data": listBillingEventsResponse{
		PageInfo: resp.PageInfo,
		Events:   views,
	}})
}

func viewOfBillingEvent(e *billingeventdomain.BillingEvent) billingEventView {
	view := billingEventView{
		ID:         e.ID.String(),
		EventType:  e.EventType,
		ActorType:  e.ActorType,
		ActorID:    e.ActorID,
		TargetType: e.TargetType,
		TargetID:   e.TargetID,
		Payload:    e.Payload,
		IPAddress:  e.IPAddress,
		UserAgent:  e.UserAgent,
		CreatedAt:  e.CreatedAt,
	}
	if e.TenantID != nil {
		id := e.TenantID.String()
		view.TenantID = &id
	}
	return view
}

func parseOptionalTime(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
