package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/Cheertaboi/reviewcard-checkout/internal/service"
)

// maxBodyBytes caps every JSON request body.
const maxBodyBytes = 64 << 10

var errBodyTooLarge = errors.New("request body too large")

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	OrderID string `json:"orderId,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: code, Message: msg})
}

// classify maps service errors onto the HTTP error taxonomy.
func classify(err error) (int, errorResponse) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		return http.StatusRequestEntityTooLarge, errorResponse{Error: "request_too_large", Message: err.Error()}
	case errors.Is(err, service.ErrUnknownPlan):
		return http.StatusBadRequest, errorResponse{Error: "unknown_plan", Message: err.Error()}
	case errors.Is(err, service.ErrUnsupportedMethod):
		return http.StatusBadRequest, errorResponse{Error: "unsupported_payment_method", Message: err.Error()}
	case errors.Is(err, service.ErrInvalidPromo):
		return http.StatusBadRequest, errorResponse{Error: "invalid_promo_code", Message: err.Error()}
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest, errorResponse{Error: "invalid_request", Message: err.Error()}
	case errors.Is(err, service.ErrOrderNotFound):
		return http.StatusNotFound, errorResponse{Error: "order_not_found", Message: "order not found"}
	case errors.Is(err, service.ErrPromoNotFound):
		return http.StatusNotFound, errorResponse{Error: "promo_not_found", Message: "promo code not found"}
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, errorResponse{Error: "forbidden", Message: "not allowed to access this resource"}
	case errors.Is(err, service.ErrInvalidTransition):
		return http.StatusConflict, errorResponse{Error: "invalid_order_state", Message: err.Error()}
	case errors.Is(err, service.ErrPromoExists):
		return http.StatusConflict, errorResponse{Error: "promo_code_exists", Message: "promo code already exists"}
	case errors.Is(err, service.ErrPaymentAlreadyUsed):
		return http.StatusConflict, errorResponse{Error: "payment_already_used", Message: "payment already settles another order"}
	case errors.Is(err, service.ErrPaymentNotVerified):
		return http.StatusPaymentRequired, errorResponse{Error: "payment_not_verified", Message: "payment could not be verified with the provider"}
	case errors.Is(err, service.ErrPaymentInitiation), errors.Is(err, service.ErrRefundFailed):
		// provider detail stays in the server log
		return http.StatusBadGateway, errorResponse{Error: "payment_processing_error", Message: "payment processing error"}
	default:
		return http.StatusInternalServerError, errorResponse{Error: "internal_error", Message: "internal server error"}
	}
}

func respondError(log *zap.Logger, w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	writeJSON(w, status, body)
}

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body of at most maxBodyBytes into dst and runs its
// validate tags.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: limit is %d bytes", errBodyTooLarge, tooLarge.Limit)
		}
		return fmt.Errorf("%w: malformed JSON body", service.ErrInvalidInput)
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				_, field, _ := strings.Cut(fe.Namespace(), ".")
				fields = append(fields, fmt.Sprintf("%s (%s)", field, fe.Tag()))
			}
			return fmt.Errorf("%w: invalid fields: %s", service.ErrInvalidInput, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", service.ErrInvalidInput, err)
	}
	return nil
}
