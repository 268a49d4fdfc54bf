package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"trained": false,
	}
	if family, ok := s.scheduler.CurrentModelFamily(); ok {
		resp["trained"] = true
		resp["model_family"] = family
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	results := s.scheduler.ForceForecast(time.Now())
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(results)
}

func (s *Server) handleForecasts(w http.ResponseWriter, r *http.Request) {
	hours := queryInt(r, "hours", 24)
	forecasts, err := s.scheduler.LatestForecasts(time.Now(), hours)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(forecasts)
}

func (s *Server) handleAccuracy(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 7)
	summary, err := s.scheduler.AccuracySummary(time.Now(), days)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

func (s *Server) handleLatestReadings(w http.ResponseWriter, r *http.Request) {
	n := queryInt(r, "n", 60)
	readings, err := s.store.LatestReadings(n)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(readings)
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
