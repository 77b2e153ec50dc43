package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/Cheertaboi/reviewcard-checkout/internal/cache"
	"github.com/Cheertaboi/reviewcard-checkout/internal/models"
	"github.com/Cheertaboi/reviewcard-checkout/internal/repository"
)

type PromoRepository interface {
	GetByCode(ctx context.Context, code string) (*models.PromoCode, error)
	Create(ctx context.Context, p *models.PromoCode) error
	Deactivate(ctx context.Context, code string) error
	List(ctx context.Context, promoterID *string) ([]models.PromoCode, error)
}

type PromoCache interface {
	Get(ctx context.Context, code string) (*models.PromoCode, error)
	Set(ctx context.Context, p *models.PromoCode) error
	Invalidate(ctx context.Context, code string) error
}

var codePattern = regexp.MustCompile(`^[A-Z0-9_-]{3,32}$`)

type PromoService struct {
	repo  PromoRepository
	cache PromoCache
	log   *zap.Logger
	now   func() time.Time
}

// NewPromoService wires the validator. cache may be nil.
func NewPromoService(repo PromoRepository, cache PromoCache, log *zap.Logger) *PromoService {
	return &PromoService{repo: repo, cache: cache, log: log, now: time.Now}
}

// Validate is read-only. Unknown and unusable codes are reported through
// PromoValidation.Reason, not as errors.
func (s *PromoService) Validate(ctx context.Context, code string) (models.PromoValidation, error) {
	code = models.NormalizeCode(code)
	if code == "" {
		return models.PromoValidation{}, fmt.Errorf("%w: promo code required", ErrInvalidInput)
	}

	p, err := s.lookup(ctx, code)
	if errors.Is(err, repository.ErrNotFound) {
		return models.PromoValidation{Code: code, Reason: models.PromoNotFound}, nil
	}
	if err != nil {
		return models.PromoValidation{}, err
	}

	reason := p.Check(s.now())
	if reason != models.PromoOK {
		return models.PromoValidation{Code: p.Code, Reason: reason}, nil
	}
	return models.PromoValidation{
		Valid:              true,
		Code:               p.Code,
		DiscountPercentage: p.DiscountPercentage,
		PromoterID:         p.PromoterID,
	}, nil
}

func (s *PromoService) lookup(ctx context.Context, code string) (*models.PromoCode, error) {
	if s.cache != nil {
		p, err := s.cache.Get(ctx, code)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			s.log.Warn("promo cache unavailable, reading database", zap.Error(err))
		}
	}

	p, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, p); err != nil {
			s.log.Debug("promo cache set failed", zap.String("code", code), zap.Error(err))
		}
	}
	return p, nil
}

// Invalidate drops the cached row after the code changed.
func (s *PromoService) Invalidate(ctx context.Context, code string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, code); err != nil {
		s.log.Warn("promo cache invalidate failed", zap.String("code", code), zap.Error(err))
	}
}

type CreatePromoInput struct {
	Code               string
	DiscountPercentage int
	ExpiresAt          *time.Time
	MaxUses            *int
	PromoterID         *string
	Description        string
}

// Create registers a new code. Promoters always own the codes they create;
// admins may attach any promoter or none.
func (s *PromoService) Create(ctx context.Context, actor models.Actor, in CreatePromoInput) (*models.PromoCode, error) {
	if !actor.IsAdmin() && !actor.IsPromoter() {
		return nil, ErrForbidden
	}

	code := models.NormalizeCode(in.Code)
	switch {
	case !codePattern.MatchString(code):
		return nil, fmt.Errorf("%w: code must be 3-32 letters, digits, '-' or '_'", ErrInvalidInput)
	case in.DiscountPercentage < 1 || in.DiscountPercentage > 100:
		return nil, fmt.Errorf("%w: discountPercentage must be between 1 and 100", ErrInvalidInput)
	case in.MaxUses != nil && *in.MaxUses < 1:
		return nil, fmt.Errorf("%w: maxUses must be positive", ErrInvalidInput)
	case in.ExpiresAt != nil && !in.ExpiresAt.After(s.now()):
		return nil, fmt.Errorf("%w: expiresAt must be in the future", ErrInvalidInput)
	}

	promoter := in.PromoterID
	if actor.IsPromoter() {
		id := actor.UserID
		promoter = &id
	}

	p := &models.PromoCode{
		Code:               code,
		DiscountPercentage: in.DiscountPercentage,
		Active:             true,
		ExpiresAt:          in.ExpiresAt,
		MaxUses:            in.MaxUses,
		PromoterID:         promoter,
		Description:        in.Description,
		CreatedBy:          actor.UserID,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrPromoExists
		}
		return nil, err
	}
	s.log.Info("promo code created",
		zap.String("code", p.Code),
		zap.Int("discount_percentage", p.DiscountPercentage),
		zap.String("created_by", actor.UserID))
	return p, nil
}

func (s *PromoService) Deactivate(ctx context.Context, actor models.Actor, code string) error {
	p, err := s.repo.GetByCode(ctx, code)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrPromoNotFound
	}
	if err != nil {
		return err
	}
	if !actor.IsAdmin() {
		if !actor.IsPromoter() || p.PromoterID == nil || *p.PromoterID != actor.UserID {
			return ErrForbidden
		}
	}

	if err := s.repo.Deactivate(ctx, p.Code); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrPromoNotFound
		}
		return err
	}
	s.Invalidate(ctx, p.Code)
	s.log.Info("promo code deactivated", zap.String("code", p.Code), zap.String("by", actor.UserID))
	return nil
}

// List shows admins every code and promoters their own.
func (s *PromoService) List(ctx context.Context, actor models.Actor) ([]models.PromoCode, error) {
	switch {
	case actor.IsAdmin():
		return s.repo.List(ctx, nil)
	case actor.IsPromoter():
		id := actor.UserID
		return s.repo.List(ctx, &id)
	default:
		return nil, ErrForbidden
	}
}
