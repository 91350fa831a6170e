package metric

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	flowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lotto_flows_total",
			Help: "Completed transaction flows by outcome",
		},
		[]string{"flow", "outcome"},
	)

	flowDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lotto_flow_duration_seconds",
			Help:    "Wall time from validation to the end of the post-flow sync",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"flow"},
	)

	transactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lotto_transactions_total",
			Help: "Submitted transactions by contract method and result",
		},
		[]string{"method", "result"},
	)

	syncFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lotto_sync_failures_total",
			Help: "Failed state fetches by field",
		},
		[]string{"field"},
	)

	blockHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lotto_block_height",
			Help: "Latest observed block number",
		},
	)
)

type Server struct {
	conf *Config
}

type Config struct {
	Port int `default:"4014"`
}

// New returns a metrics server. A nil conf is read from LOTTO_METRIC_PORT.
func New(conf *Config) *Server {
	if conf == nil {
		conf = &Config{}
		envconfig.MustProcess("lotto_metric", conf)
	}
	return &Server{conf: conf}
}

// Start serves /metrics until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%d", s.conf.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Int("port", s.conf.Port).Msg("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// RecordFlow records a finished flow.
func RecordFlow(flow, outcome string, d time.Duration) {
	flowsTotal.WithLabelValues(flow, outcome).Inc()
	flowDuration.WithLabelValues(flow).Observe(d.Seconds())
}

// RecordTransaction records a submitted transaction's final result, e.g.
// "confirmed", "reverted", "user_rejected".
func RecordTransaction(method, result string) {
	transactionsTotal.WithLabelValues(method, result).Inc()
}

func RecordSyncFailure(field string) {
	syncFailures.WithLabelValues(field).Inc()
}

func SetBlockHeight(n uint64) {
	blockHeight.Set(float64(n))
}
