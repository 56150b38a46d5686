package jobs

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"paperpos/backend/internal/domain"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type Recomputer interface {
	Recompute(ctx context.Context) (domain.DashboardSnapshot, error)
}

type Scheduler struct {
	sched   *cron.Cron
	timeout time.Duration
}

// NewScheduler registers the dashboard refresh under spec. An empty spec
// yields a scheduler with no jobs.
func NewScheduler(spec string, dashboard Recomputer) (*Scheduler, error) {
	s := &Scheduler{
		sched:   cron.New(cron.WithParser(cronParser)),
		timeout: 30 * time.Second,
	}

	spec = strings.TrimSpace(spec)
	if spec == "" {
		return s, nil
	}
	if _, err := s.sched.AddFunc(spec, func() { s.refreshDashboard(dashboard) }); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.sched.Start()
}

// Stop waits for a running job to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.sched.Stop().Done():
	case <-ctx.Done():
	}
}

func (s *Scheduler) Entries() int {
	return len(s.sched.Entries())
}

func (s *Scheduler) refreshDashboard(dashboard Recomputer) {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Errorf("dashboard refresh panicked: %v", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	snapshot, err := dashboard.Recompute(ctx)
	if err != nil {
		zap.L().Error("scheduled dashboard refresh failed", zap.Error(err))
		return
	}
	zap.L().Debug("dashboard refreshed",
		zap.String("total_sales", snapshot.TotalSales.String()),
		zap.Int("low_stock", snapshot.LowStock))
}
