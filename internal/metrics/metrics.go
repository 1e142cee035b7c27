// Package metrics exposes Prometheus metrics for the store. The admin tool
// has no long running server, so metrics are exported by writing them to a
// node_exporter textfile after each run.
package metrics

import (
	"fmt"
	"time"

	"boxstore/internal/protocol"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all store metrics and the registry they belong to.
type Metrics struct {
	registry *prometheus.Registry

	// Protocol metrics
	CommandsTotal   *prometheus.CounterVec   // boxstore_commands_total{command,result}
	CommandDuration *prometheus.HistogramVec // boxstore_command_duration_seconds{command}

	// Account metrics
	BlocksUsed      *prometheus.GaugeVec // boxstore_account_blocks_used{account}
	BlocksSoftLimit *prometheus.GaugeVec // boxstore_account_blocks_soft_limit{account}
	BlocksHardLimit *prometheus.GaugeVec // boxstore_account_blocks_hard_limit{account}

	// Checker metrics
	CheckErrors  *prometheus.GaugeVec // boxstore_check_errors{account}
	CheckLastRun *prometheus.GaugeVec // boxstore_check_last_run_timestamp_seconds{account}

	// Housekeeping metrics
	HousekeepingDeletedFiles  *prometheus.CounterVec // boxstore_housekeeping_deleted_files_total{account}
	HousekeepingDeletedBlocks *prometheus.CounterVec // boxstore_housekeeping_deleted_blocks_total{account}
	HousekeepingDeletedDirs   *prometheus.CounterVec // boxstore_housekeeping_deleted_dirs_total{account}
	HousekeepingLastRun       *prometheus.GaugeVec   // boxstore_housekeeping_last_run_timestamp_seconds{account}
}

// New creates the metrics on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,

		CommandsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "boxstore_commands_total",
			Help: "Protocol commands by command and result",
		}, []string{"command", "result"}),

		CommandDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "boxstore_command_duration_seconds",
			Help:    "Protocol command duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"command"}),

		BlocksUsed: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "boxstore_account_blocks_used",
			Help: "Blocks used by an account",
		}, []string{"account"}),

		BlocksSoftLimit: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "boxstore_account_blocks_soft_limit",
			Help: "Soft limit of an account in blocks",
		}, []string{"account"}),

		BlocksHardLimit: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "boxstore_account_blocks_hard_limit",
			Help: "Hard limit of an account in blocks",
		}, []string{"account"}),

		CheckErrors: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "boxstore_check_errors",
			Help: "Errors found by the last check of an account",
		}, []string{"account"}),

		CheckLastRun: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "boxstore_check_last_run_timestamp_seconds",
			Help: "Time of the last check of an account",
		}, []string{"account"}),

		HousekeepingDeletedFiles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "boxstore_housekeeping_deleted_files_total",
			Help: "Files removed by housekeeping",
		}, []string{"account"}),

		HousekeepingDeletedBlocks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "boxstore_housekeeping_deleted_blocks_total",
			Help: "Blocks reclaimed by housekeeping",
		}, []string{"account"}),

		HousekeepingDeletedDirs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "boxstore_housekeeping_deleted_dirs_total",
			Help: "Directories removed by housekeeping",
		}, []string{"account"}),

		HousekeepingLastRun: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "boxstore_housekeeping_last_run_timestamp_seconds",
			Help: "Time of the last housekeeping run of an account",
		}, []string{"account"}),
	}
}

// Registry returns the registry holding the metrics.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// CommandHandled records one protocol command.
func (m *Metrics) CommandHandled(command, result string, elapsed time.Duration) {
	m.CommandsTotal.WithLabelValues(command, result).Inc()
	m.CommandDuration.WithLabelValues(command).Observe(elapsed.Seconds())
}

// SetUsage records an account's usage and limits.
func (m *Metrics) SetUsage(accountID uint32, used, softLimit, hardLimit int64) {
	a := accountLabel(accountID)
	m.BlocksUsed.WithLabelValues(a).Set(float64(used))
	m.BlocksSoftLimit.WithLabelValues(a).Set(float64(softLimit))
	m.BlocksHardLimit.WithLabelValues(a).Set(float64(hardLimit))
}

// RecordCheck records the outcome of a check.
func (m *Metrics) RecordCheck(accountID uint32, errorsFound int64, at time.Time) {
	a := accountLabel(accountID)
	m.CheckErrors.WithLabelValues(a).Set(float64(errorsFound))
	m.CheckLastRun.WithLabelValues(a).Set(float64(at.Unix()))
}

// RecordHousekeeping records what a housekeeping run removed.
func (m *Metrics) RecordHousekeeping(accountID uint32, files, blocks, dirs int64, at time.Time) {
	a := accountLabel(accountID)
	m.HousekeepingDeletedFiles.WithLabelValues(a).Add(float64(files))
	m.HousekeepingDeletedBlocks.WithLabelValues(a).Add(float64(blocks))
	m.HousekeepingDeletedDirs.WithLabelValues(a).Add(float64(dirs))
	m.HousekeepingLastRun.WithLabelValues(a).Set(float64(at.Unix()))
}

// WriteTextfile writes all metrics to path in the text exposition format.
// The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}

func accountLabel(id uint32) string {
	return fmt.Sprintf("%08x", id)
}

var _ protocol.Recorder = (*Metrics)(nil)
