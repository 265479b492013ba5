package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the daemon's metrics. We do not use the default registry
	// so tests can run several servers in one process.
	Registry = prometheus.NewRegistry()

	connectionsAccepted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "catlink_connections_total",
			Help: "Connections by direction",
		},
		[]string{"direction"},
	)

	connectionsOpen = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "catlink_connections_open",
			Help: "Connections currently open",
		},
	)

	commandsProcessed = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "catlink_commands_total",
			Help: "Commands processed by handler role",
		},
		[]string{"role", "command"},
	)

	messagesRouted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "catlink_messages_routed_total",
			Help: "Messages written to streams by destination kind",
		},
		[]string{"destination"},
	)

	netsplits = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Name: "catlink_netsplits_total",
			Help: "Servers split from the network",
		},
	)
)

// serveMetrics serves /metrics until ctx is done.
func serveMetrics(ctx context.Context, addr string, log *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(Registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(),
			5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "metrics server")
	}
	return nil
}
