package telemetry

import (
	"errors"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBTracingConfig configures database spans.
type DBTracingConfig struct {
	Enabled         bool
	LogFullSQL      bool
	SlowQueryThresh time.Duration
	DBSystem        string
}

// DefaultDBTracingConfig returns tracing disabled with a 200ms slow threshold.
func DefaultDBTracingConfig() DBTracingConfig {
	return DBTracingConfig{
		SlowQueryThresh: 200 * time.Millisecond,
		DBSystem:        "postgresql",
	}
}

const queryStartKey = "telemetry:query_start"

// DBTracingPlugin installs otelgorm plus slow-statement annotation and an
// optional statement duration histogram.
type DBTracingPlugin struct {
	config   DBTracingConfig
	logger   *zap.Logger
	duration *Histogram
}

// NewDBTracingPlugin creates the plugin. meter may be nil.
func NewDBTracingPlugin(cfg DBTracingConfig, meter metric.Meter, logger *zap.Logger) (*DBTracingPlugin, error) {
	p := &DBTracingPlugin{config: cfg, logger: logger}
	if p.config.SlowQueryThresh <= 0 {
		p.config.SlowQueryThresh = 200 * time.Millisecond
	}
	if meter != nil {
		h, err := NewHistogram(meter, HistogramOpts{
			Name:        "db_statement_duration_seconds",
			Description: "Duration of GORM statements",
			Unit:        "s",
			Boundaries:  DBDurationBuckets,
		})
		if err != nil {
			return nil, err
		}
		p.duration = h
	}
	return p, nil
}

// Register installs the callbacks on db.
func (p *DBTracingPlugin) Register(db *gorm.DB) error {
	if !p.config.Enabled {
		p.logger.Debug("Database tracing disabled")
		return nil
	}

	opts := []otelgorm.Option{otelgorm.WithDBName(p.config.DBSystem)}
	if !p.config.LogFullSQL {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}
	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return err
	}

	cb := db.Callback()
	hooks := []struct {
		op       string
		register func(before, after func(*gorm.DB)) error
	}{
		{"create", func(b, a func(*gorm.DB)) error {
			if err := cb.Create().Before("gorm:create").Register("telemetry:before_create", b); err != nil {
				return err
			}
			return cb.Create().After("gorm:create").Register("telemetry:after_create", a)
		}},
		{"query", func(b, a func(*gorm.DB)) error {
			if err := cb.Query().Before("gorm:query").Register("telemetry:before_query", b); err != nil {
				return err
			}
			return cb.Query().After("gorm:query").Register("telemetry:after_query", a)
		}},
		{"update", func(b, a func(*gorm.DB)) error {
			if err := cb.Update().Before("gorm:update").Register("telemetry:before_update", b); err != nil {
				return err
			}
			return cb.Update().After("gorm:update").Register("telemetry:after_update", a)
		}},
		{"delete", func(b, a func(*gorm.DB)) error {
			if err := cb.Delete().Before("gorm:delete").Register("telemetry:before_delete", b); err != nil {
				return err
			}
			return cb.Delete().After("gorm:delete").Register("telemetry:after_delete", a)
		}},
		{"raw", func(b, a func(*gorm.DB)) error {
			if err := cb.Raw().Before("gorm:raw").Register("telemetry:before_raw", b); err != nil {
				return err
			}
			return cb.Raw().After("gorm:raw").Register("telemetry:after_raw", a)
		}},
	}
	for _, h := range hooks {
		if err := h.register(p.before, p.afterFor(h.op)); err != nil {
			return err
		}
	}

	p.logger.Info("Database tracing enabled",
		zap.Bool("log_full_sql", p.config.LogFullSQL),
		zap.Duration("slow_query_threshold", p.config.SlowQueryThresh),
	)
	return nil
}

func (p *DBTracingPlugin) before(db *gorm.DB) {
	db.InstanceSet(queryStartKey, time.Now())
}

func (p *DBTracingPlugin) afterFor(op string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		v, ok := db.InstanceGet(queryStartKey)
		if !ok {
			return
		}
		start, ok := v.(time.Time)
		if !ok {
			return
		}
		elapsed := time.Since(start)

		if p.duration != nil && db.Statement.Context != nil {
			p.duration.RecordDuration(db.Statement.Context, elapsed,
				AttrDBOperation.String(op), AttrDBTable.String(db.Statement.Table))
		}

		if db.Statement.Context == nil {
			return
		}
		span := trace.SpanFromContext(db.Statement.Context)
		if !span.IsRecording() {
			return
		}
		span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))
		if db.Statement.Table != "" {
			span.SetAttributes(attribute.String("db.sql.table", db.Statement.Table))
		}
		if db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound) {
			span.RecordError(db.Error)
			span.SetStatus(codes.Error, db.Error.Error())
		}
		if elapsed > p.config.SlowQueryThresh {
			span.SetAttributes(attribute.Bool("db.slow_query", true))
			span.AddEvent("slow_query", trace.WithAttributes(
				attribute.Int64("duration_ms", elapsed.Milliseconds()),
				attribute.Int64("threshold_ms", p.config.SlowQueryThresh.Milliseconds()),
			))
			p.logger.Warn("Slow query",
				zap.String("table", db.Statement.Table),
				zap.String("operation", op),
				zap.Duration("elapsed", elapsed),
			)
		}
	}
}
