// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"errors"
	"time"

	"github.com/edumastery/mastery-engine/internal/domain/achievement"
	"github.com/edumastery/mastery-engine/internal/domain/shared"
	"github.com/edumastery/mastery-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET STANDARDIZED SCORE QUERY
// Computes the 0-500 standardized score of a user, independently of any
// achievement run. Results may be served from a read-through cache.
// ══════════════════════════════════════════════════════════════════════════════

// GetStandardizedScoreQuery contains the query parameters.
type GetStandardizedScoreQuery struct {
	// UserID is the user to score.
	UserID string

	// BypassCache forces a fresh computation. The fresh result still
	// refreshes the cache.
	BypassCache bool
}

// Validate checks the query.
func (q GetStandardizedScoreQuery) Validate() error {
	if q.UserID == "" {
		return errors.New("user_id is required")
	}
	return nil
}

// CompetencyScoreDTO is one competency of the breakdown.
type CompetencyScoreDTO struct {
	Competency  string  `json:"competency"`
	Percentage  float64 `json:"percentage"`
	Weight      float64 `json:"weight"`
	Obtained    float64 `json:"obtained"`
	MaxPossible float64 `json:"max_possible"`
	Answers     int     `json:"answers"`
}

// StandardizedScoreDTO is the query result.
type StandardizedScoreDTO struct {
	UserID string `json:"user_id"`

	// Score is in [0, 500].
	Score int `json:"score"`

	// Fallback is set when the score was derived from exam averages.
	Fallback bool `json:"fallback"`

	WeightedPercentage float64              `json:"weighted_percentage"`
	AnswerCount        int                  `json:"answer_count"`
	Competencies       []CompetencyScoreDTO `json:"competencies"`
	ComputedAt         time.Time            `json:"computed_at"`

	// FromCache is set when the result was served from the cache.
	FromCache bool `json:"-"`
}

// ScoreComputer computes a standardized score report.
type ScoreComputer interface {
	StandardizedScore(ctx context.Context, userID string) (achievement.ScoreReport, error)
}

// ScoreCache stores computed scores. Get reports found=false on a miss.
type ScoreCache interface {
	Get(ctx context.Context, userID string) (dto *StandardizedScoreDTO, found bool, err error)
	Set(ctx context.Context, dto *StandardizedScoreDTO) error
}

// GetStandardizedScoreHandler handles GetStandardizedScoreQuery.
type GetStandardizedScoreHandler struct {
	computer ScoreComputer
	cache    ScoreCache
	logger   *logger.Logger
}

// NewGetStandardizedScoreHandler creates the handler. cache may be nil.
func NewGetStandardizedScoreHandler(computer ScoreComputer, cache ScoreCache, log *logger.Logger) *GetStandardizedScoreHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &GetStandardizedScoreHandler{
		computer: computer,
		cache:    cache,
		logger:   log.With(logger.Operation("GetStandardizedScore")),
	}
}

// Handle executes the query. Cache failures degrade to a fresh computation.
func (h *GetStandardizedScoreHandler) Handle(ctx context.Context, query GetStandardizedScoreQuery) (*StandardizedScoreDTO, error) {
	if err := query.Validate(); err != nil {
		return nil, shared.WrapError("query", "GetStandardizedScore", shared.ErrInvalidInput, err.Error(), err)
	}

	if h.cache != nil && !query.BypassCache {
		cached, found, err := h.cache.Get(ctx, query.UserID)
		switch {
		case err != nil:
			h.logger.Warn("score cache read failed", logger.UserID(query.UserID), logger.Err(err))
		case found:
			cached.FromCache = true
			return cached, nil
		}
	}

	report, err := h.computer.StandardizedScore(ctx, query.UserID)
	if err != nil {
		return nil, err
	}
	dto := toScoreDTO(report)

	if h.cache != nil {
		if err := h.cache.Set(ctx, dto); err != nil {
			h.logger.Warn("score cache write failed", logger.UserID(query.UserID), logger.Err(err))
		}
	}
	return dto, nil
}

func toScoreDTO(r achievement.ScoreReport) *StandardizedScoreDTO {
	dto := &StandardizedScoreDTO{
		UserID:             r.UserID,
		Score:              r.Score,
		Fallback:           r.Fallback,
		WeightedPercentage: r.Detail.WeightedPercentage,
		AnswerCount:        r.Detail.AnswerCount,
		Competencies:       make([]CompetencyScoreDTO, 0, len(r.Detail.Competencies)),
		ComputedAt:         r.ComputedAt,
	}
	for _, c := range r.Detail.Competencies {
		dto.Competencies = append(dto.Competencies, CompetencyScoreDTO{
			Competency:  c.Competency,
			Percentage:  c.Percentage,
			Weight:      c.Weight,
			Obtained:    c.Obtained,
			MaxPossible: c.MaxPossible,
			Answers:     c.Answers,
		})
	}
	return dto
}
