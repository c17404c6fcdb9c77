package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rumbosoft/rumbo/pkg/db/pagination"
	"gorm.io/gorm"
)

// AppendRequest describes one event. Actor identity is resolved from the
// context; absent any, the system actor is recorded.
type AppendRequest struct {
	TenantID   *snowflake.ID
	EventType  string
	TargetType string
	TargetID   *string
	DedupeKey  *string
	Payload    map[string]any
}

type ListEventsRequest struct {
	pagination.Pagination
	EventType  string
	TargetType string
	TargetID   string
	ActorType  string
	StartAt    *time.Time
	EndAt      *time.Time
}

type ListEventsResponse struct {
	pagination.PageInfo
	Events []BillingEvent `json:"events"`
}

type Service interface {
	// Append writes one event. It joins the caller's transaction when tx is
	// non-nil so event emission and the mutation it describes land
	// atomically.
	Append(ctx context.Context, tx *gorm.DB, req AppendRequest) error
	List(ctx context.Context, req ListEventsRequest) (ListEventsResponse, error)
}

var (
	ErrInvalidTenant    = errors.New("invalid_tenant")
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrInvalidTimeRange = errors.New("invalid_time_range")
	ErrInvalidEventType = errors.New("invalid_event_type")
)
