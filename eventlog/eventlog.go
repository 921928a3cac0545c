// Package eventlog appends delivery outcomes, fan-out summaries, and drop
// records to a rotating JSON-lines file. One line per record, one writer
// goroutine, so concurrent fan-outs never interleave partial lines.
package eventlog

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/PopoGonry/iot-data-bridge/component"
	"github.com/PopoGonry/iot-data-bridge/errors"
	"github.com/PopoGonry/iot-data-bridge/message"
	"github.com/PopoGonry/iot-data-bridge/metric"
)

// Config holds event log configuration.
type Config struct {
	Path       string // log file path, required
	MaxSizeMB  int    // rotate after this many megabytes
	MaxBackups int    // rotated files to keep
	MaxAgeDays int    // days to keep rotated files
	Compress   bool   // gzip rotated files
	BufferSize int    // pending records before appends block
}

// DefaultConfig returns sensible event log defaults.
func DefaultConfig() Config {
	return Config{
		MaxSizeMB:  100,
		MaxBackups: 10,
		MaxAgeDays: 30,
		BufferSize: 1024,
	}
}

// Deps holds runtime dependencies for the event log.
type Deps struct {
	Config  Config
	Logger  *slog.Logger
	Metrics *metric.Metrics
}

// Log is the append-only event log. Appends marshal the record and hand
// the line to the writer goroutine; a full buffer blocks the caller, a
// failed write is reported to the process log and counted, never
// propagated back to the pipeline.
type Log struct {
	config  Config
	logger  *slog.Logger
	metrics *metric.Metrics

	writer  io.WriteCloser
	records chan []byte

	shutdown  chan struct{}
	done      chan struct{}
	running   atomic.Bool
	startTime time.Time

	written      atomic.Int64
	failures     atomic.Int64
	bytesWritten atomic.Int64
	lastActivity atomic.Value // stores time.Time
}

var _ component.LifecycleComponent = (*Log)(nil)

// NewLog creates an event log with the given dependencies.
func NewLog(deps Deps) *Log {
	cfg := deps.Config
	def := DefaultConfig()
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = def.MaxSizeMB
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = def.MaxBackups
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = def.MaxAgeDays
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "eventlog")
	}

	l := &Log{
		config:    cfg,
		logger:    logger,
		metrics:   deps.Metrics,
		startTime: time.Now(),
	}
	l.lastActivity.Store(time.Time{})
	return l
}

// Initialize validates configuration before start.
func (l *Log) Initialize() error {
	if l.config.Path == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "eventlog", "Initialize", "path validation")
	}
	if !filepath.IsAbs(l.config.Path) {
		abs, err := filepath.Abs(l.config.Path)
		if err != nil {
			return errors.WrapInvalid(err, "eventlog", "Initialize", "path resolution")
		}
		l.config.Path = abs
	}
	return nil
}

// Start opens the rotating writer and launches the writer goroutine.
func (l *Log) Start(ctx context.Context) error {
	if l.running.Load() {
		return nil // Already running, idempotent
	}

	l.writer = &lumberjack.Logger{
		Filename:   l.config.Path,
		MaxSize:    l.config.MaxSizeMB,
		MaxBackups: l.config.MaxBackups,
		MaxAge:     l.config.MaxAgeDays,
		Compress:   l.config.Compress,
	}

	l.records = make(chan []byte, l.config.BufferSize)
	l.shutdown = make(chan struct{})
	l.done = make(chan struct{})
	l.running.Store(true)
	l.startTime = time.Now()

	go l.writeLoop()

	l.logger.Info("event log started", "path", l.config.Path)
	return nil
}

// AppendOutcome records one per-device delivery result.
func (l *Log) AppendOutcome(o message.DispatchOutcome) error {
	return l.submit(newOutcomeRecord(o))
}

// AppendSummary records the completed fan-out for one event: the object
// and every device it was sent to, in catalog order.
func (l *Log) AppendSummary(traceID, object string, sendDevices []string) error {
	if sendDevices == nil {
		sendDevices = []string{}
	}
	return l.submit(SummaryRecord{
		Record:      kindSummary,
		Timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
		TraceID:     traceID,
		Object:      object,
		SendDevices: sendDevices,
	})
}

// AppendDrop records an event that left the pipeline before dispatch.
// Timestamp is filled in here; callers set the rest.
func (l *Log) AppendDrop(rec DropRecord) error {
	rec.Record = kindDrop
	rec.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	return l.submit(rec)
}

// submit marshals the record and queues the line for the writer.
func (l *Log) submit(rec any) error {
	if !l.running.Load() {
		return errors.WrapTransient(errors.ErrNotStarted, "eventlog", "submit", "lifecycle check")
	}

	line, err := json.Marshal(rec)
	if err != nil {
		l.countFailure()
		return errors.WrapInvalid(err, "eventlog", "submit", "record marshal")
	}
	line = append(line, '\n')

	select {
	case l.records <- line:
		return nil
	case <-l.shutdown:
		return errors.WrapTransient(errors.ErrShuttingDown, "eventlog", "submit", "record queue")
	}
}

// writeLoop is the single writer. On shutdown it drains whatever is
// queued before closing the file.
func (l *Log) writeLoop() {
	defer close(l.done)

	for {
		select {
		case line := <-l.records:
			l.write(line)
		case <-l.shutdown:
			for {
				select {
				case line := <-l.records:
					l.write(line)
				default:
					return
				}
			}
		}
	}
}

func (l *Log) write(line []byte) {
	n, err := l.writer.Write(line)
	if err != nil {
		l.countFailure()
		l.logger.Error("event log write failed", "error", err, "path", l.config.Path)
		return
	}

	l.written.Add(1)
	l.bytesWritten.Add(int64(n))
	l.lastActivity.Store(time.Now())
	if l.metrics != nil {
		l.metrics.LogRecordsWritten.Inc()
	}
}

func (l *Log) countFailure() {
	l.failures.Add(1)
	if l.metrics != nil {
		l.metrics.LogWriteFailures.Inc()
	}
}

// Stop drains queued records and closes the file. Records still queued
// when the timeout expires are lost and counted as failures.
func (l *Log) Stop(timeout time.Duration) error {
	if !l.running.Load() {
		return nil
	}
	l.running.Store(false)

	close(l.shutdown)

	select {
	case <-l.done:
	case <-time.After(timeout):
		l.logger.Warn("event log drain timed out", "pending", len(l.records))
		return errors.WrapTransient(errors.ErrConnectionTimeout, "eventlog", "Stop", "writer drain")
	}

	if err := l.writer.Close(); err != nil {
		return errors.WrapTransient(err, "eventlog", "Stop", "file close")
	}

	l.logger.Info("event log stopped",
		"records_written", l.written.Load(),
		"write_failures", l.failures.Load())
	return nil
}

// Meta returns the component metadata
func (l *Log) Meta() component.Metadata {
	return component.Metadata{
		Name:        "eventlog",
		Type:        "sink",
		Description: "Append-only JSON-lines log of delivery outcomes and drops",
		Version:     "1.0.0",
	}
}

// Health returns the current health status of the event log
func (l *Log) Health() component.HealthStatus {
	return component.HealthStatus{
		Healthy:    l.running.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(l.failures.Load()),
		Uptime:     time.Since(l.startTime),
	}
}

// DataFlow returns the current data flow metrics
func (l *Log) DataFlow() component.FlowMetrics {
	written := l.written.Load()
	bytes := l.bytesWritten.Load()
	failures := l.failures.Load()
	lastActivity, _ := l.lastActivity.Load().(time.Time)

	var perSecond, bytesPerSecond, errorRate float64
	if uptime := time.Since(l.startTime).Seconds(); uptime > 0 {
		perSecond = float64(written) / uptime
		bytesPerSecond = float64(bytes) / uptime
	}
	if written > 0 {
		errorRate = float64(failures) / float64(written)
	}

	return component.FlowMetrics{
		MessagesPerSecond: perSecond,
		BytesPerSecond:    bytesPerSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}
