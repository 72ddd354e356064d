package service

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/nitesh/meal_match/pkg/models"
)

// sweep drops matches captured before today or already delivered and
// deletes them from the store. By default a stale row takes its whole batch
// with it; PerRowSweep limits the delete to the row. A failed delete is
// logged and the row is still left out.
func (s *Service) sweep(ctx context.Context, rows []*models.Match) []*models.Match {
	today := s.today()
	fresh := make([]*models.Match, 0, len(rows))
	purged := map[string]bool{}

	for _, m := range rows {
		if !m.Stale(today) {
			fresh = append(fresh, m)
			continue
		}
		var err error
		switch {
		case s.perRowSweep:
			err = s.matches.DeleteMatch(ctx, m.ID)
		case !purged[m.BatchID]:
			err = s.matches.DeleteMatchesByBatch(ctx, m.BatchID)
			purged[m.BatchID] = true
		}
		if err != nil {
			s.log.Warn("stale match delete failed",
				"batch_id", m.BatchID,
				"match_id", m.ID,
				"error", err,
			)
		}
	}
	return fresh
}

// SweepStale purges every stale match in the store and reports how many
// rows went.
func (s *Service) SweepStale(ctx context.Context) (int64, error) {
	n, err := s.matches.DeleteStaleMatches(ctx, s.today(), !s.perRowSweep)
	if err != nil {
		return 0, s.storageErr("sweep stale matches", err)
	}
	return n, nil
}

// StartSweepScheduler runs SweepStale every interval until the returned
// scheduler is shut down.
func (s *Service) StartSweepScheduler(interval time.Duration) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler(
		gocron.WithClock(s.clock),
		gocron.WithLocation(s.loc),
	)
	if err != nil {
		return nil, err
	}
	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			n, err := s.SweepStale(ctx)
			if err != nil {
				return
			}
			if n > 0 {
				s.log.Info("scheduled sweep removed stale matches", "rows", n)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, err
	}
	sched.Start()
	return sched, nil
}
