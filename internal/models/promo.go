package models

import (
	"strings"
	"time"
)

type PromoCode struct {
	ID                 int64      `json:"id"`
	Code               string     `json:"code"`
	DiscountPercentage int        `json:"discountPercentage"`
	Active             bool       `json:"active"`
	ExpiresAt          *time.Time `json:"expiresAt,omitempty"`
	MaxUses            *int       `json:"maxUses,omitempty"`
	UsedCount          int        `json:"usedCount"`
	PromoterID         *string    `json:"promoterId,omitempty"`
	Description        string     `json:"description"`
	CreatedBy          string     `json:"createdBy"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// NormalizeCode is the canonical form codes are stored and looked up by.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Rejection reasons returned by PromoCode.Check.
const (
	PromoOK        = ""
	PromoNotFound  = "promo_not_found"
	PromoInactive  = "promo_inactive"
	PromoExpired   = "promo_expired"
	PromoExhausted = "promo_usage_limit_reached"
)

// Check evaluates the validity invariant at the given instant.
func (p *PromoCode) Check(now time.Time) string {
	if !p.Active {
		return PromoInactive
	}
	if p.ExpiresAt != nil && !p.ExpiresAt.After(now) {
		return PromoExpired
	}
	if p.MaxUses != nil && p.UsedCount >= *p.MaxUses {
		return PromoExhausted
	}
	return PromoOK
}

func (p *PromoCode) Valid(now time.Time) bool {
	return p.Check(now) == PromoOK
}

type PromoValidation struct {
	Valid              bool
	Code               string
	DiscountPercentage int
	PromoterID         *string
	Reason             string
}
