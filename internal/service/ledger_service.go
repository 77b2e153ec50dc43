package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Cheertaboi/reviewcard-checkout/internal/models"
)

type StatsRepository interface {
	Stats(ctx context.Context, promoterID string) (models.PromoterStats, error)
}

// LedgerService reports commission earnings with the same rate checkout credits with.
type LedgerService struct {
	repo StatsRepository
	rate decimal.Decimal
}

func NewLedgerService(repo StatsRepository, rate decimal.Decimal) *LedgerService {
	return &LedgerService{repo: repo, rate: rate}
}

// PromoterStats returns the caller's own dashboard. Admins must name the promoter.
func (s *LedgerService) PromoterStats(ctx context.Context, actor models.Actor, promoterID string) (models.PromoterStats, error) {
	switch {
	case actor.IsPromoter():
		promoterID = actor.UserID
	case actor.IsAdmin():
		if promoterID == "" {
			return models.PromoterStats{}, fmt.Errorf("%w: promoterId required", ErrInvalidInput)
		}
	default:
		return models.PromoterStats{}, ErrForbidden
	}

	stats, err := s.repo.Stats(ctx, promoterID)
	if err != nil {
		return models.PromoterStats{}, err
	}
	stats.CommissionRate = s.rate
	return stats, nil
}
