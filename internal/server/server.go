// Package server exposes the market data facade over HTTP. Routes mirror the
// facade one to one and return JSON; only malformed requests produce error
// statuses, since the facade degrades to mock data instead of failing.
package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"stockboard/internal/marketdata"
	"stockboard/internal/observ"
)

type Server struct {
	svc *marketdata.Service
	mux *http.ServeMux
}

func New(svc *marketdata.Service) *Server {
	s := &Server{svc: svc, mux: http.NewServeMux()}
	s.mux.HandleFunc("GET /api/stocks/price", s.handlePrice)
	s.mux.HandleFunc("GET /api/stocks/candles", s.handleCandles)
	s.mux.HandleFunc("GET /api/stocks/search", s.handleSearch)
	s.mux.HandleFunc("GET /api/stocks/performance", s.handlePerformance)
	s.mux.HandleFunc("GET /api/stocks/news", s.handleNews)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", observ.Handler())
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s.mux.ServeHTTP(w, r)
	observ.IncCounter("http_requests_total", map[string]string{"path": r.URL.Path})
	observ.Log("http_request", map[string]any{
		"method":      r.Method,
		"path":        r.URL.Path,
		"duration_ms": time.Since(start).Milliseconds(),
	})
}

// handlePrice serves one quote for ?symbol=X, or a batch for
// ?symbols=A,B,C.
func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	if symbols := r.URL.Query().Get("symbols"); symbols != "" {
		list := splitSymbols(symbols)
		if len(list) == 0 {
			writeError(w, http.StatusBadRequest, "symbols parameter is empty")
			return
		}
		writeJSON(w, map[string]any{"quotes": s.svc.GetQuotes(r.Context(), list)})
		return
	}

	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol parameter is required")
		return
	}
	q, err := s.svc.GetQuote(r.Context(), symbol)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, q)
}

func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	symbol := q.Get("symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol parameter is required")
		return
	}

	var start, end time.Time
	if v := q.Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "start must be RFC3339")
			return
		}
		start = t
	}
	if v := q.Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "end must be RFC3339")
			return
		}
		end = t
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	candles, err := s.svc.GetCandles(r.Context(), symbol, q.Get("timeframe"), start, end, limit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, map[string]any{
		"symbol":  marketdata.NormalizeSymbol(symbol),
		"candles": candles,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	results := s.svc.Search(r.Context(), r.URL.Query().Get("q"))
	writeJSON(w, map[string]any{"results": results})
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol parameter is required")
		return
	}
	period := r.URL.Query().Get("period")
	if period == "" {
		period = "1m"
	}
	perf, err := s.svc.GetPerformance(r.Context(), symbol, period)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, perf)
}

func (s *Server) handleNews(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol parameter is required")
		return
	}
	items, err := s.svc.GetNews(r.Context(), symbol)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, map[string]any{
		"symbol": marketdata.NormalizeSymbol(symbol),
		"news":   items,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":      "ok",
		"time":        time.Now().UTC().Format(time.RFC3339),
		"rate_limits": s.svc.RateLimits(),
	})
}

func splitSymbols(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if sym := marketdata.NormalizeSymbol(p); sym != "" {
			out = append(out, sym)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		observ.Log("response_encode_error", map[string]any{"error": err.Error()})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
