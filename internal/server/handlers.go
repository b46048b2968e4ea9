package server

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shopspring/decimal"

	"github.com/aristath/balancecore/internal/balance"
	"github.com/aristath/balancecore/internal/exchange"
)

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "balancecore",
	})
}

// handleSystemStatus reports process and host health.
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	cpuPct, ramPct := s.hostStats()

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "running",
		"memory": map[string]interface{}{
			"alloc_mb":       m.Alloc / 1024 / 1024,
			"total_alloc_mb": m.TotalAlloc / 1024 / 1024,
			"sys_mb":         m.Sys / 1024 / 1024,
			"num_gc":         m.NumGC,
		},
		"goroutines":  runtime.NumGoroutine(),
		"cpu_percent": cpuPct,
		"ram_percent": ramPct,
	})
}

// hostStats reports host-level CPU/RAM usage, using a short sampling window
// so it never meaningfully delays the status response.
func (s *Server) hostStats() (cpuPercent, ramPercent float64) {
	pct, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to read CPU percentage")
	} else if len(pct) > 0 {
		cpuPercent = pct[0]
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to read memory statistics")
		return cpuPercent, 0
	}
	return cpuPercent, vm.UsedPercent
}

// handleState dumps the manager's full point-in-time snapshot, per spec
// §4.F.10's get_state().
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.mgr.GetState())
}

// resolveSymbol looks up a pair query parameter against the server's static
// catalog, writing a 400 if missing or a 404 if unknown and returning false.
func (s *Server) resolveSymbol(w http.ResponseWriter, r *http.Request) (exchange.Symbol, bool) {
	pair := r.URL.Query().Get("pair")
	if pair == "" {
		s.writeError(w, http.StatusBadRequest, "missing required query parameter: pair")
		return exchange.Symbol{}, false
	}
	sym, ok := s.symbols[pair]
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown pair: "+pair)
		return exchange.Symbol{}, false
	}
	return sym, true
}

// parseAccount builds an exchange.AccountID from the "exchange"/"account_id"
// query parameters.
func parseAccount(r *http.Request) (exchange.AccountID, error) {
	sub := r.URL.Query().Get("account_id")
	n, err := strconv.ParseInt(sub, 10, 64)
	if err != nil {
		return exchange.AccountID{}, err
	}
	return exchange.AccountID{Exchange: r.URL.Query().Get("exchange"), Account: n}, nil
}

func parseSide(r *http.Request) exchange.Side {
	if r.URL.Query().Get("side") == string(exchange.SideSell) {
		return exchange.SideSell
	}
	return exchange.SideBuy
}

func parseDecimalParam(r *http.Request, name string, def decimal.Decimal) decimal.Decimal {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return def
	}
	return d
}

func parseBoolParam(r *http.Request, name string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return v
}

// parseConfig builds a ConfigurationDescriptor from the "service"/"config"
// query parameters.
func parseConfig(r *http.Request) balance.ConfigurationDescriptor {
	return balance.ConfigurationDescriptor{
		ServiceName: r.URL.Query().Get("service"),
		ConfigKey:   r.URL.Query().Get("config"),
	}
}

// handleAvailableBalance implements spec §4.F.2's get_available_balance as a
// read-only query.
func (s *Server) handleAvailableBalance(w http.ResponseWriter, r *http.Request) {
	sym, ok := s.resolveSymbol(w, r)
	if !ok {
		return
	}
	account, err := parseAccount(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "missing or invalid account_id")
		return
	}

	price := parseDecimalParam(r, "price", decimal.Zero)
	side := parseSide(r)
	includeFree := parseBoolParam(r, "include_free_amount")
	leveraged := parseBoolParam(r, "leveraged")

	available := s.mgr.GetAvailableBalance(parseConfig(r), account, sym, side, price, includeFree, leveraged)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"pair":      sym.Pair,
		"side":      side,
		"available": available,
	})
}

// handlePosition reports the raw signed (not side-normalized) position for
// an account/pair.
func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	pair := r.URL.Query().Get("pair")
	if pair == "" {
		s.writeError(w, http.StatusBadRequest, "missing required query parameter: pair")
		return
	}
	account, err := parseAccount(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "missing or invalid account_id")
		return
	}

	pos, ok := s.mgr.GetPosition(account, pair)
	if !ok {
		pos = decimal.Zero
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"pair":     pair,
		"position": pos,
		"known":    ok,
	})
}

// handleLimitPercent reports the side-normalized position as a fraction
// ([0,1]) of its configured limit, per spec §6.
func (s *Server) handleLimitPercent(w http.ResponseWriter, r *http.Request) {
	sym, ok := s.resolveSymbol(w, r)
	if !ok {
		return
	}
	account, err := parseAccount(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "missing or invalid account_id")
		return
	}
	side := parseSide(r)

	frac := s.mgr.GetFillAmountPositionPercent(parseConfig(r), account, sym, side)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"pair":     sym.Pair,
		"side":     side,
		"fraction": frac,
	})
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
