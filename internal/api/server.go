package api

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aircast/aircast/internal/forecast"
	"github.com/aircast/aircast/internal/store"
)

type Server struct {
	store     *store.Store
	scheduler *forecast.Scheduler
	port      string
}

func NewServer(store *store.Store, scheduler *forecast.Scheduler, port string) *Server {
	return &Server{
		store:     store,
		scheduler: scheduler,
		port:      port,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/model", s.handleModel)
	mux.HandleFunc("/api/forecast", s.handleForecast)
	mux.HandleFunc("/api/forecasts", s.handleForecasts)
	mux.HandleFunc("/api/accuracy", s.handleAccuracy)
	mux.HandleFunc("/api/readings/latest", s.handleLatestReadings)
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:    ":" + s.port,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
