package dto

import "github.com/yokitheyo/cutout/internal/domain"

// HistoryQuery binds the query string of GET /history.
type HistoryQuery struct {
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=100"`
	Offset int    `form:"offset" binding:"omitempty,min=0"`
	Phase  string `form:"phase" binding:"omitempty,oneof=done failed"`
}

func (q *HistoryQuery) ToPhase() domain.Phase {
	return domain.Phase(q.Phase)
}
