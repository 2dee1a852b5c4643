package payment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/htbacgiang/ecobacgiang/internal/domain"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

var ErrQRUnavailable = errors.New("QR asset unavailable")

// TemplateSource renders a QR image URL from a template with {amount},
// {memo} and {reference} placeholders.
type TemplateSource string

func (s TemplateSource) Render(intent *domain.PaymentIntent) string {
	if s == "" {
		return ""
	}
	return strings.NewReplacer(
		"{amount}", url.QueryEscape(intent.Amount.StringFixed(0)),
		"{memo}", url.QueryEscape(intent.TransferMemo),
		"{reference}", url.QueryEscape(intent.ReferenceCode),
	).Replace(string(s))
}

// Sources are the QR sources for one provider.
type Sources struct {
	Primary  TemplateSource
	Fallback TemplateSource
}

// QRResolver checks that a QR asset can be fetched and falls back once to a
// second source.
type QRResolver struct {
	client  *http.Client
	sources map[domain.Provider]Sources
	logger  *zap.Logger
}

func NewQRResolver(sources map[domain.Provider]Sources, timeout time.Duration, logger *zap.Logger) *QRResolver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &QRResolver{
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		sources: sources,
		logger:  logger.With(zap.String("component", "qr")),
	}
}

// Resolve returns a reachable descriptor for intent. descriptor is what the
// provider handed back; when it is empty the configured primary template is
// used instead.
func (r *QRResolver) Resolve(ctx context.Context, intent *domain.PaymentIntent, descriptor string) (string, error) {
	src := r.sources[intent.Provider]
	primary := descriptor
	if primary == "" {
		primary = src.Primary.Render(intent)
	}

	var primaryErr error
	if primary != "" {
		if primaryErr = r.probe(ctx, primary); primaryErr == nil {
			return primary, nil
		}
		r.logger.Warn("primary QR source unreachable",
			zap.String("reference_code", intent.ReferenceCode),
			zap.Error(primaryErr))
	}

	fallback := src.Fallback.Render(intent)
	if fallback == "" || fallback == primary {
		return "", fmt.Errorf("%w: %v", ErrQRUnavailable, primaryErr)
	}
	if err := r.probe(ctx, fallback); err != nil {
		return "", fmt.Errorf("%w: primary: %v, fallback: %v", ErrQRUnavailable, primaryErr, err)
	}
	return fallback, nil
}

// probe treats non-URL descriptors (inline payloads, data URIs) as reachable.
func (r *QRResolver) probe(ctx context.Context, descriptor string) error {
	u, err := url.Parse(descriptor)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil
	}

	status, err := r.fetch(ctx, http.MethodHead, descriptor)
	if err == nil && (status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented) {
		status, err = r.fetch(ctx, http.MethodGet, descriptor)
	}
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("QR source answered %d", status)
	}
	return nil
}

func (r *QRResolver) fetch(ctx context.Context, method, target string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return 0, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	return resp.StatusCode, nil
}
