package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/hochfrequenz/boardwatch/internal/bridge"
	"github.com/hochfrequenz/boardwatch/internal/domain"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCron parses a five-field cron expression or a descriptor such as
// "@every 5m"
func ParseCron(expr string) (cron.Schedule, error) {
	return parser.Parse(expr)
}

// Rescanner periodically asks the page side to rescan the tracked columns
type Rescanner struct {
	expr    string
	columns []domain.Column
	port    bridge.Port
	log     zerolog.Logger

	mu      sync.RWMutex
	lastRun time.Time
}

// NewRescanner validates expr and creates a rescanner sending column checks
// over port. With no columns given both tracked columns are checked.
func NewRescanner(expr string, port bridge.Port, log zerolog.Logger, columns ...domain.Column) (*Rescanner, error) {
	if expr == "" {
		return nil, fmt.Errorf("cron expression is required")
	}
	if _, err := ParseCron(expr); err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	if len(columns) == 0 {
		columns = []domain.Column{domain.ColumnQA, domain.ColumnInProgress}
	}
	return &Rescanner{
		expr:    expr,
		columns: columns,
		port:    port,
		log:     log.With().Str("component", "schedule").Logger(),
	}, nil
}

// Run fires on schedule until ctx is done
func (r *Rescanner) Run(ctx context.Context) error {
	c := cron.New(cron.WithParser(parser))
	if _, err := c.AddFunc(r.expr, func() { r.Trigger(ctx) }); err != nil {
		return fmt.Errorf("scheduling rescan: %w", err)
	}

	r.log.Info().Str("cron", r.expr).Time("next", r.NextRun()).Msg("rescan schedule started")
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// Trigger sends one check message per column now
func (r *Rescanner) Trigger(ctx context.Context) {
	for _, col := range r.columns {
		if err := r.port.Send(ctx, bridge.CheckColumn(col)); err != nil {
			r.log.Warn().Err(err).Str("column", string(col)).Msg("rescan request not delivered")
			continue
		}
		r.log.Debug().Str("column", string(col)).Msg("rescan requested")
	}

	r.mu.Lock()
	r.lastRun = time.Now()
	r.mu.Unlock()
}

// LastRun returns when the schedule last fired
func (r *Rescanner) LastRun() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastRun
}

// NextRun returns the next scheduled fire time
func (r *Rescanner) NextRun() time.Time {
	sched, err := ParseCron(r.expr)
	if err != nil {
		return time.Time{}
	}
	return sched.Next(time.Now())
}
