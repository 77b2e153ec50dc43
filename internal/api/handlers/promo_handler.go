package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Cheertaboi/reviewcard-checkout/internal/api/middleware"
	"github.com/Cheertaboi/reviewcard-checkout/internal/models"
	"github.com/Cheertaboi/reviewcard-checkout/internal/service"
)

type PromoService interface {
	Create(ctx context.Context, actor models.Actor, in service.CreatePromoInput) (*models.PromoCode, error)
	Deactivate(ctx context.Context, actor models.Actor, code string) error
	List(ctx context.Context, actor models.Actor) ([]models.PromoCode, error)
}

type StatsService interface {
	PromoterStats(ctx context.Context, actor models.Actor, promoterID string) (models.PromoterStats, error)
}

type createPromoRequest struct {
	Code               string     `json:"code" validate:"required"`
	DiscountPercentage int        `json:"discountPercentage" validate:"required,min=1,max=100"`
	ExpiresAt          *time.Time `json:"expiresAt,omitempty"`
	MaxUses            *int       `json:"maxUses,omitempty" validate:"omitempty,min=1"`
	PromoterID         *string    `json:"promoterId,omitempty"`
	Description        string     `json:"description,omitempty" validate:"max=500"`
}

type PromoHandler struct {
	log   *zap.Logger
	svc   PromoService
	stats StatsService
}

func NewPromoHandler(log *zap.Logger, svc PromoService, stats StatsService) *PromoHandler {
	return &PromoHandler{log: log, svc: svc, stats: stats}
}

// Create handles POST /promo-codes
func (h *PromoHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFrom(r.Context())

	var req createPromoRequest
	if err := decode(w, r, &req); err != nil {
		respondError(h.log, w, r, err)
		return
	}

	p, err := h.svc.Create(r.Context(), actor, service.CreatePromoInput{
		Code:               req.Code,
		DiscountPercentage: req.DiscountPercentage,
		ExpiresAt:          req.ExpiresAt,
		MaxUses:            req.MaxUses,
		PromoterID:         req.PromoterID,
		Description:        req.Description,
	})
	if err != nil {
		respondError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// List handles GET /promo-codes
func (h *PromoHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFrom(r.Context())
	codes, err := h.svc.List(r.Context(), actor)
	if err != nil {
		respondError(h.log, w, r, err)
		return
	}
	if codes == nil {
		codes = []models.PromoCode{}
	}
	writeJSON(w, http.StatusOK, codes)
}

// Deactivate handles POST /promo-codes/{code}/deactivate
func (h *PromoHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFrom(r.Context())
	if err := h.svc.Deactivate(r.Context(), actor, chi.URLParam(r, "code")); err != nil {
		respondError(h.log, w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PromoterStats handles GET /promoter/stats. Admins pass ?promoterId=.
func (h *PromoHandler) PromoterStats(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFrom(r.Context())
	stats, err := h.stats.PromoterStats(r.Context(), actor, r.URL.Query().Get("promoterId"))
	if err != nil {
		respondError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPromoterStatsResponse(stats))
}
