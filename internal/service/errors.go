package service

import "errors"

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrUnknownPlan        = errors.New("unknown plan")
	ErrUnsupportedMethod  = errors.New("unsupported payment method")
	ErrInvalidPromo       = errors.New("invalid promo code")
	ErrPromoNotFound      = errors.New("promo code not found")
	ErrPromoExists        = errors.New("promo code already exists")
	ErrOrderNotFound      = errors.New("order not found")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidTransition  = errors.New("order is not in a state that allows this operation")
	ErrPaymentInitiation  = errors.New("payment initiation failed")
	ErrPaymentNotVerified = errors.New("payment could not be verified")
	ErrPaymentAlreadyUsed = errors.New("payment already settles another order")
	ErrRefundFailed       = errors.New("refund failed")
)
