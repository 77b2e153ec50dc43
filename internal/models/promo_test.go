package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func intPtr(v int) *int { return &v }

func TestPromoCodeCheck(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	cases := []struct {
		name  string
		promo PromoCode
		want  string
	}{
		{"active no limits", PromoCode{Active: true}, PromoOK},
		{"inactive", PromoCode{Active: false}, PromoInactive},
		{"expired", PromoCode{Active: true, ExpiresAt: &past}, PromoExpired},
		{"expires exactly now", PromoCode{Active: true, ExpiresAt: &now}, PromoExpired},
		{"not yet expired", PromoCode{Active: true, ExpiresAt: &future}, PromoOK},
		{"under limit", PromoCode{Active: true, MaxUses: intPtr(3), UsedCount: 2}, PromoOK},
		{"at limit", PromoCode{Active: true, MaxUses: intPtr(3), UsedCount: 3}, PromoExhausted},
		{"zero limit", PromoCode{Active: true, MaxUses: intPtr(0)}, PromoExhausted},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, c.promo.Check(now))
			assert.Equal(t, c.want == PromoOK, c.promo.Valid(now))
		})
	}
}

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "SAVE10", NormalizeCode("  save10 "))
	assert.Equal(t, "", NormalizeCode("   "))
}
