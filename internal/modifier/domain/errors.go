package domain

import "errors"

var (
	ErrInvalidTenant         = errors.New("invalid_tenant")
	ErrInvalidID             = errors.New("invalid_id")
	ErrNotFound              = errors.New("not_found")
	ErrInvalidKind           = errors.New("invalid_modifier_kind")
	ErrInvalidLabel          = errors.New("invalid_modifier_label")
	ErrInvalidPct            = errors.New("invalid_modifier_pct")
	ErrInvalidEffectiveRange = errors.New("invalid_effective_range")
)
