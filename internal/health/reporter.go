// Package health runs a cron-scheduled pool status reporter: a periodic log
// line of the process-wide recycler Stats that lets an operator watch hit
// rate and scavenged-queue counts without scraping /metrics.
package health

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"objpool/pkg/logger"
	"objpool/pkg/recycler"
)

// Start begins the cron-scheduled reporter and returns a cancel func. An
// empty cronExpr defaults to every 5 minutes. Invalid expressions return an
// error immediately rather than silently falling back, mirroring how a
// misconfigured schedule should fail fast at startup.
func Start(ctx context.Context, cronExpr string) (context.CancelFunc, error) {
	if cronExpr == "" {
		cronExpr = "*/5 * * * *"
	}
	if !gronx.IsValid(cronExpr) {
		return nil, fmt.Errorf("invalid pool report cron expression: %s", cronExpr)
	}

	ctx2, cancel := context.WithCancel(ctx)
	logger.Info("pool_report_scheduler_started", "cron", cronExpr)
	go run(ctx2, cronExpr)
	return cancel, nil
}

func run(ctx context.Context, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("pool_report_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("pool_report_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		wait := time.Until(next)
		if wait <= 0 {
			wait = time.Second
		}

		select {
		case <-time.After(wait):
			report()
		case <-ctx.Done():
			logger.Info("pool_report_scheduler_stopping")
			return
		}
	}
}

func report() {
	s := recycler.GlobalStats()
	logger.Info("pool_status",
		"hits", s.Hits,
		"misses", s.Misses,
		"recycled", s.Recycled,
		"woq_unlinked", s.WOQUnlinked,
	)
}
