package result

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	roundmodel "github.com/zhouzirui/peer-essay/backend/internal/model/round"
	"github.com/zhouzirui/peer-essay/backend/internal/store"
)

func newTestRouter(t *testing.T) (http.Handler, *store.SQLiteStore) {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "results.db"))
	if err != nil {
		t.Fatalf("NewSQLite err: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	r := chi.NewRouter()
	New(repo).RegisterRoutes(r)
	return r, repo
}

func TestListAndGetResults(t *testing.T) {
	router, repo := newTestRouter(t)
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i, id := range []string{"r-1", "r-2"} {
		err := repo.SaveResult(context.Background(), roundmodel.Result{
			RoundID:     id,
			Topic:       "education",
			Question:    roundmodel.Question{ID: "edu-1", Topic: "education", Prompt: "p"},
			FinalAnswer: "answer " + id,
			ClosedAt:    base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("SaveResult err: %v", err)
		}
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/results?topic=education&limit=1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rec.Code)
	}
	var list struct {
		Results []roundmodel.Result `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Results) != 1 || list.Results[0].RoundID != "r-2" {
		t.Fatalf("expected newest result only, got %+v", list.Results)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/results/r-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rec.Code)
	}
	var got roundmodel.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if got.FinalAnswer != "answer r-1" {
		t.Fatalf("unexpected final answer %q", got.FinalAnswer)
	}
}

func TestResultErrors(t *testing.T) {
	router, _ := newTestRouter(t)

	cases := map[string]int{
		"/results/missing":  http.StatusNotFound,
		"/results?limit=0":  http.StatusBadRequest,
		"/results?limit=ab": http.StatusBadRequest,
		"/results":          http.StatusOK,
	}
	for path, want := range cases {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != want {
			t.Fatalf("%s: expected %d, got %d", path, want, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/results", nil))
	if body := rec.Body.String(); body != "{\"results\":[]}\n" {
		t.Fatalf("expected empty list, got %q", body)
	}
}
