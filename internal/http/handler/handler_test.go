package handler

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stackinit/internal/supervisor"
)

type fakeStatus struct {
	snapshot []supervisor.ProgramStatus
	healthy  bool
}

func (f *fakeStatus) Snapshot() []supervisor.ProgramStatus { return f.snapshot }
func (f *fakeStatus) Healthy() bool                        { return f.healthy }

func newTestApp(sup StatusProvider) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler()})
	RegisterRoutes(app, sup, nil, prometheus.NewRegistry())
	return app
}

func TestHealthz(t *testing.T) {
	app := newTestApp(&fakeStatus{})

	resp, err := app.Test(httptest.NewRequest("GET", "/healthz", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestHealthHealthy(t *testing.T) {
	app := newTestApp(&fakeStatus{
		healthy: true,
		snapshot: []supervisor.ProgramStatus{
			{Name: "glance-api", Status: supervisor.StateRunning, PID: 42},
		},
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		Status   string                    `json:"status"`
		Services map[string]map[string]any `json:"services"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "running", body.Services["glance-api"]["status"])
	assert.Equal(t, float64(42), body.Services["glance-api"]["pid"])
}

func TestHealthUnhealthyWhenChildDown(t *testing.T) {
	app := newTestApp(&fakeStatus{
		healthy: false,
		snapshot: []supervisor.ProgramStatus{
			{Name: "nova-api", Status: supervisor.StateExited, Restarts: 1},
		},
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)

	var body struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "unhealthy", body.Status)
}

func TestStatus(t *testing.T) {
	app := newTestApp(&fakeStatus{
		snapshot: []supervisor.ProgramStatus{
			{Name: "frontend", Status: supervisor.StateRunning, PID: 7},
			{Name: "nova-api", Status: supervisor.StateRunning, PID: 8},
		},
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/status", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		Programs []supervisor.ProgramStatus `json:"programs"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Programs, 2)
	assert.Equal(t, "frontend", body.Programs[0].Name)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "stackinit_test_total"})
	reg.MustRegister(counter)
	counter.Inc()

	app := fiber.New()
	RegisterRoutes(app, &fakeStatus{}, nil, reg)

	resp, err := app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(b), "stackinit_test_total 1")
}

func TestNotFoundUsesStandardErrorShape(t *testing.T) {
	app := newTestApp(&fakeStatus{})

	resp, err := app.Test(httptest.NewRequest("GET", "/nope", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "NOT_FOUND", body.Error.Code)
}
