package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/Cheertaboi/reviewcard-checkout/internal/api/handlers"
	"github.com/Cheertaboi/reviewcard-checkout/internal/api/middleware"
	"github.com/Cheertaboi/reviewcard-checkout/internal/models"
)

type RouterDeps struct {
	Log       *zap.Logger
	Checkout  *handlers.CheckoutHandler
	Promos    *handlers.PromoHandler
	JWTSecret []byte
	// Limiter guards the unauthenticated lookup endpoints. Nil disables it.
	Limiter *middleware.RateLimiter
}

var (
	adminRoles        = []models.Role{models.RoleAdmin, models.RoleSuperAdmin, models.RoleRegionalAdmin}
	promoManagerRoles = append([]models.Role{models.RolePromoter}, adminRoles...)
)

// NewRouter builds the HTTP router for the checkout service
func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(d.Log))
	r.Use(chimw.Recoverer)

	limited := func(r chi.Router) chi.Router {
		if d.Limiter == nil {
			return r
		}
		return r.With(d.Limiter.Handler)
	}
	auth := middleware.Authenticate(d.JWTSecret)

	r.Route("/checkout", func(r chi.Router) {
		// Public
		r.Get("/plans", d.Checkout.Plans)
		limited(r).Post("/verify-promo", d.Checkout.VerifyPromo)
		limited(r).Get("/verify-paypal/{paypalOrderId}", d.Checkout.VerifyPayPal)

		// Provider redirect targets
		r.Get("/success/{orderId}", d.Checkout.PaymentSuccess)
		r.Post("/success/{orderId}", d.Checkout.PaymentSuccess)
		r.Get("/cancel/{orderId}", d.Checkout.PaymentCancel)
		r.Post("/cancel/{orderId}", d.Checkout.PaymentCancel)

		r.Group(func(r chi.Router) {
			r.Use(auth)
			r.Post("/create-order", d.Checkout.CreateOrder)
			r.Get("/orders", d.Checkout.ListOrders)
			r.Get("/orders/{orderId}", d.Checkout.GetOrder)
			r.Post("/retry-payment/{orderId}", d.Checkout.RetryPayment)
		})
	})

	// Admin endpoints
	r.Route("/admin", func(r chi.Router) {
		r.Use(auth, middleware.RequireRoles(adminRoles...))
		r.Post("/orders/{orderId}/refund", d.Checkout.RefundOrder)
	})

	r.Route("/promo-codes", func(r chi.Router) {
		r.Use(auth, middleware.RequireRoles(promoManagerRoles...))
		r.Post("/", d.Promos.Create)
		r.Get("/", d.Promos.List)
		r.Post("/{code}/deactivate", d.Promos.Deactivate)
	})

	r.With(auth, middleware.RequireRoles(promoManagerRoles...)).Get("/promoter/stats", d.Promos.PromoterStats)

	// health
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return r
}
