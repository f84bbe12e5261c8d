package routes

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stripe/stripe-go/v84"

	stripewebhook "github.com/dustout/dustout-backend/internal/webhooks/stripe"
	"github.com/dustout/dustout-backend/pkg/config"
	"github.com/dustout/dustout-backend/pkg/logger"
)

type stubPinger struct {
	err error
}

func (p stubPinger) Ping(context.Context) error {
	return p.err
}

type stubWebhookService struct {
	calls int
}

func (s *stubWebhookService) HandleEvent(ctx context.Context, event *stripe.Event) (stripewebhook.Outcome, error) {
	s.calls++
	return stripewebhook.OutcomeProcessed, nil
}

type stubSigningClient struct{}

func (stubSigningClient) SigningSecret() string {
	return "whsec_test"
}

func newTestRouter(t *testing.T, dbErr, redisErr error) (http.Handler, *stubWebhookService) {
	t.Helper()

	service := &stubWebhookService{}
	router := NewRouter(RouterParams{
		Config:         &config.Config{App: config.AppConfig{Env: "test", Port: "8080"}},
		Logger:         logger.New(logger.Options{ServiceName: "test"}),
		DB:             stubPinger{err: dbErr},
		Redis:          stubPinger{err: redisErr},
		StripeClient:   stubSigningClient{},
		WebhookService: service,
		Registry:       prometheus.NewRegistry(),
	})
	return router, service
}

func TestHealthLive(t *testing.T) {
	router, _ := newTestRouter(t, nil, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "test", rec.Header().Get("X-DustOut-Env"))
	assert.Contains(t, rec.Body.String(), `"live"`)
}

func TestHealthReadyReportsDependencies(t *testing.T) {
	router, _ := newTestRouter(t, nil, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ready"`)
}

func TestHealthReadyFailsWhenRedisDown(t *testing.T) {
	router, _ := newTestRouter(t, nil, errors.New("connection refused"))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestMetricsEndpointServesRegistry(t *testing.T) {
	router, _ := newTestRouter(t, nil, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookRouteRejectsUnsignedPayload(t *testing.T) {
	router, service := newTestRouter(t, nil, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, service.calls)
}

func TestResponsesCarryRequestID(t *testing.T) {
	router, _ := newTestRouter(t, nil, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}
