package agenda

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	appLog "daygrid/internal/log"
)

const refreshTimeout = 2 * time.Minute

// Refresher re-runs Service.Refresh on a cron schedule.
type Refresher struct {
	svc  *Service
	spec string
	cron *cron.Cron
}

// NewRefresher validates spec (standard 5-field cron or a descriptor such
// as "@every 10m") and prepares the schedule without starting it.
func NewRefresher(svc *Service, spec string) (*Refresher, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("refresh schedule %q: %w", spec, err)
	}
	logger := cronLogger{}
	return &Refresher{
		svc:  svc,
		spec: spec,
		cron: cron.New(
			cron.WithLocation(svc.Location()),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
	}, nil
}

// Start refreshes once synchronously, then hands off to the scheduler.
// Refresh errors are logged; they never stop the schedule.
func (r *Refresher) Start(ctx context.Context) error {
	r.run(ctx)
	if _, err := r.cron.AddFunc(r.spec, func() { r.run(ctx) }); err != nil {
		return fmt.Errorf("schedule refresh: %w", err)
	}
	r.cron.Start()
	appLog.Info("refresh scheduler started", "schedule", r.spec)
	return nil
}

// Stop halts the scheduler and waits for a running refresh to finish.
func (r *Refresher) Stop() {
	<-r.cron.Stop().Done()
}

func (r *Refresher) run(parent context.Context) {
	if parent.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(parent, refreshTimeout)
	defer cancel()
	if _, err := r.svc.Refresh(ctx); err != nil {
		appLog.Error("scheduled refresh had failures", err)
	}
}

// cronLogger routes cron's internal logging through the app logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
