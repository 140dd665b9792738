package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jcolson/dndvault-bot-sub000/internal/app"
)

type stubSweeps struct {
	ran []string
}

func (s *stubSweeps) Reminders(context.Context) app.SweepReport {
	s.ran = append(s.ran, "reminders")
	return app.SweepReport{Considered: 2, Claimed: 1, Skipped: 1}
}

func (s *stubSweeps) Recurrences(context.Context) app.SweepReport {
	s.ran = append(s.ran, "recurrences")
	return app.SweepReport{}
}

func (s *stubSweeps) Retention(context.Context) app.SweepReport {
	s.ran = append(s.ran, "retention")
	return app.SweepReport{}
}

func do(h http.Handler, method, path, actor, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if actor != "" {
		req.Header.Set(actorHeader, actor)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleRunSweep(t *testing.T) {
	t.Parallel()

	sweeps := &stubSweeps{}
	router := NewRouter(Services{Events: &stubEventService{}, Sweeps: sweeps, Policies: &stubPolicies{}, PolicyStore: &stubPolicies{}, Profiles: newStubProfiles()})

	rec := do(router, http.MethodPost, "/sweeps/reminders", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var rep app.SweepReport
	if err := json.NewDecoder(rec.Body).Decode(&rep); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rep.Claimed != 1 || rep.Skipped != 1 {
		t.Fatalf("unexpected report %+v", rep)
	}

	do(router, http.MethodPost, "/sweeps/recurrences", "", "")
	do(router, http.MethodPost, "/sweeps/retention", "", "")
	if len(sweeps.ran) != 3 {
		t.Fatalf("expected three sweeps run, got %v", sweeps.ran)
	}

	rec = do(router, http.MethodPost, "/sweeps/everything", "", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown sweep, got %d", rec.Code)
	}
	rec = do(router, http.MethodGet, "/sweeps/reminders", "", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected JSON 404 for wrong method, got %d", rec.Code)
	}
}

func TestRouter_Metrics(t *testing.T) {
	t.Parallel()

	router := NewRouter(Services{Events: &stubEventService{}, Sweeps: &stubSweeps{}, Policies: &stubPolicies{}, PolicyStore: &stubPolicies{}, Profiles: newStubProfiles()})
	rec := do(router, http.MethodGet, "/metrics", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("go_goroutines")) {
		t.Fatalf("expected runtime metrics in exposition")
	}
}
