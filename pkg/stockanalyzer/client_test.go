package stockanalyzer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewClient(t *testing.T) {
	c := NewClient("http://localhost:8080/")
	if c.baseURL != "http://localhost:8080" {
		t.Errorf("baseURL = %q, want trailing slash trimmed", c.baseURL)
	}
	if c.httpClient == nil {
		t.Fatal("expected non-nil httpClient")
	}
}

func TestClientStartAndResult(t *testing.T) {
	var got BacktestRequest
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/backtests", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(RunStatus{ID: "run-1", Strategy: got.Strategy, State: "created"})
	})
	mux.HandleFunc("GET /api/backtests/{id}/result", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"run_id":  r.PathValue("id"),
			"state":   "completed",
			"summary": map[string]any{"total_return": 0.05, "trades": map[string]any{"total": 3}},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(srv.URL)
	capital := 50000.0
	st, err := c.StartBacktest(context.Background(), BacktestRequest{
		Strategy:       "sma-cross",
		Symbols:        []string{"AAPL"},
		Start:          "2024-01-02",
		End:            "2024-06-28",
		InitialCapital: &capital,
	})
	if err != nil {
		t.Fatal(err)
	}
	if st.ID != "run-1" || st.Strategy != "sma-cross" {
		t.Errorf("status = %+v", st)
	}
	if got.InitialCapital == nil || *got.InitialCapital != 50000 || got.CommissionRate != nil {
		t.Errorf("request = %+v", got)
	}

	res, err := c.GetResult(context.Background(), "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if res.RunID != "run-1" || res.Summary.TotalReturn != 0.05 || res.Summary.Trades.Total != 3 {
		t.Errorf("result = %+v", res)
	}
}

func TestClientAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "run not found"})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).GetRun(context.Background(), "nope")
	if !IsNotFound(err) {
		t.Fatalf("err = %v, want 404 APIError", err)
	}
	if apiErr := err.(*APIError); apiErr.Message != "run not found" {
		t.Errorf("Message = %q", apiErr.Message)
	}
}

func TestClientWaitRun(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		state := "running"
		if calls.Add(1) >= 3 {
			state = "completed"
		}
		json.NewEncoder(w).Encode(RunStatus{ID: "run-1", State: state})
	}))
	defer srv.Close()

	st, err := NewClient(srv.URL).WaitRun(context.Background(), "run-1", time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if st.State != "completed" || calls.Load() != 3 {
		t.Errorf("state = %s after %d calls", st.State, calls.Load())
	}
}

func TestClientSymbolsAndPurge(t *testing.T) {
	var purged string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/symbols", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(SymbolsResponse{Symbols: []string{"AAPL", r.URL.Query().Get("market")}})
	})
	mux.HandleFunc("DELETE /api/backtests/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("purge") != "true" {
			http.Error(w, "cancel", http.StatusConflict)
			return
		}
		purged = r.PathValue("id")
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(srv.URL)
	syms, err := c.ListSymbols(context.Background(), "cn")
	if err != nil {
		t.Fatal(err)
	}
	if len(syms) != 2 || syms[1] != "cn" {
		t.Errorf("symbols = %v", syms)
	}
	if err := c.PurgeRun(context.Background(), "run-9"); err != nil {
		t.Fatal(err)
	}
	if purged != "run-9" {
		t.Errorf("purged = %q, want run-9", purged)
	}
}
