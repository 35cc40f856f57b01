package goVerify

import (
	"context"
	"time"

	"github.com/MrEthical07/goVerify/internal/audit"
	"github.com/MrEthical07/goVerify/internal/limiters"
	"github.com/sirupsen/logrus"
)

// Engine runs the code lifecycle, the login pipeline and the phone flow.
// It is safe for concurrent use once built.
type Engine struct {
	config    Config
	codes     CodeStore
	phones    PhoneStore
	users     UserProvider
	vault     Vault
	sms       SMSSender
	events    EventPublisher
	sessions  SessionStore
	passwords PasswordVerifier
	totp      TOTPValidator
	limiter   *limiters.CodeRequestLimiter
	activity  ActivitySink
	async     *audit.Dispatcher
	metrics   *Metrics
	log       logrus.FieldLogger
	now       func() time.Time
}

// Close flushes pending activity records.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.async != nil {
		e.async.Close()
	}
}

// FlushActivity waits until queued activity records reach the sink. It is a
// no-op when activity is written inline.
func (e *Engine) FlushActivity(ctx context.Context) error {
	if e == nil || e.async == nil {
		return nil
	}
	return e.async.Flush(ctx)
}

// ActivityDropped returns how many activity records the async dispatcher
// could not deliver.
func (e *Engine) ActivityDropped() uint64 {
	if e == nil || e.async == nil {
		return 0
	}
	return e.async.Dropped()
}

// Metrics returns the shared counters, for wiring into the event consumer.
func (e *Engine) Metrics() *Metrics {
	if e == nil {
		return nil
	}
	return e.metrics
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

func (e *Engine) metricInc(id MetricID) {
	if e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) clock() time.Time {
	if e.now != nil {
		return e.now()
	}
	return time.Now()
}

func (e *Engine) logger() logrus.FieldLogger {
	if e.log != nil {
		return e.log
	}
	return logrus.StandardLogger()
}
