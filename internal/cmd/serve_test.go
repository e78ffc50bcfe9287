package cmd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nexus-build/nexus/internal/core"
	"github.com/nexus-build/nexus/internal/coordinator"
	"github.com/nexus-build/nexus/internal/eventbus"
	"github.com/nexus-build/nexus/internal/queue"
	"github.com/nexus-build/nexus/internal/review"
	"github.com/nexus-build/nexus/internal/state"
)

// fakePersister satisfies state.Persister without a real database, for
// route-wiring tests that never exercise autoPersist.
type fakePersister struct{}

func (fakePersister) SaveState(ctx context.Context, s core.ProjectState) error { return nil }

// fakeReviewStore satisfies review.Store in-memory, for route-wiring
// tests that never need a real sqlite-backed review table.
type fakeReviewStore struct{}

func (fakeReviewStore) SaveReview(ctx context.Context, r core.Review) error { return nil }

func (fakeReviewStore) ListPendingReviews(ctx context.Context) ([]core.Review, error) {
	return nil, nil
}

func newTestControlServer() *controlServer {
	bus := eventbus.New(10)
	states := state.New(fakePersister{}, false)
	q := queue.New(bus)
	coord := coordinator.New(coordinator.Config{Bus: bus, States: states, Queue: q})
	reviews := review.New(fakeReviewStore{}, nil, states, nil, bus)

	return &controlServer{coord: coord, reviews: reviews, bus: bus}
}

func TestControlServerHealthAndStatus(t *testing.T) {
	router := newTestControlServer().router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /health, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /status, got %d", rec.Code)
	}
}

// Pause/Resume are no-ops on a coordinator that was never Start-ed (it
// sits in StatusIdle); this only exercises that the routes reach the
// coordinator and echo back its status rather than erroring.
func TestControlServerPauseResume(t *testing.T) {
	srv := newTestControlServer()
	router := srv.router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/control/pause?reason=manual", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /control/pause, got %d: %s", rec.Code, rec.Body.String())
	}
	if srv.coord.GetStatus() != coordinator.StatusIdle {
		t.Errorf("expected coordinator to remain idle, got %s", srv.coord.GetStatus())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/control/resume", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /control/resume, got %d", rec.Code)
	}
}

func TestControlServerListReviewsEmpty(t *testing.T) {
	router := newTestControlServer().router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reviews", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /reviews, got %d", rec.Code)
	}
	body := rec.Body.String()
	if body != "[]" && body != "null" {
		t.Errorf("expected an empty review list, got: %s", body)
	}
}

func TestControlServerMetricsOmittedWhenNil(t *testing.T) {
	router := newTestControlServer().router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected /metrics to 404 when no registry is wired, got %d", rec.Code)
	}
}
