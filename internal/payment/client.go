package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const maxErrorBody = 2 << 10

// apiClient performs JSON calls against one provider.
type apiClient struct {
	provider string
	hc       *http.Client
	log      *zap.Logger
	tracer   trace.Tracer
}

func newAPIClient(provider string, hc *http.Client, log *zap.Logger) *apiClient {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &apiClient{
		provider: provider,
		hc:       hc,
		log:      log.With(zap.String("provider", provider)),
		tracer:   otel.Tracer("payment/" + provider),
	}
}

func (c *apiClient) newJSONRequest(ctx context.Context, method, url string, body any) (*http.Request, error) {
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%w: encode request: %v", ErrProviderFault, err)
		}
		rdr = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrProviderFault, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// do sends req and decodes a 2xx JSON response into out (which may be nil).
func (c *apiClient) do(req *http.Request, op string, out any) error {
	ctx, span := c.tracer.Start(req.Context(), c.provider+"."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("payment.provider", c.provider),
		))
	defer span.End()

	resp, err := c.hc.Do(req.WithContext(ctx))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		c.log.Error("provider call failed", zap.String("op", op), zap.Error(err))
		return fmt.Errorf("%w: %s %s: %v", ErrProviderFault, c.provider, op, err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		span.SetStatus(codes.Error, resp.Status)
		c.log.Error("provider returned error status",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body))
		return fmt.Errorf("%w: %s %s: status %d", ErrProviderFault, c.provider, op, resp.StatusCode)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		span.RecordError(err)
		c.log.Error("provider response not decodable", zap.String("op", op), zap.Error(err))
		return fmt.Errorf("%w: %s %s: decode: %v", ErrProviderFault, c.provider, op, err)
	}
	return nil
}
