package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"sponsorscope/internal/api"
	"sponsorscope/pkg/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server with scheduled crawl and aggregation cycles",
	Long: `Serves the leaderboard API while periodically crawling the graph,
refreshing users, recomputing earnings and freezing closed activity years.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(cfg.Crawl.Seeds) == 0 {
		return fmt.Errorf("no crawl seeds configured")
	}

	svc, err := buildServices(cfg)
	if err != nil {
		return err
	}
	defer svc.store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched := scheduler.New(svc.log)
	sched.Add("crawl", cfg.Scheduler.CrawlInterval, svc.runCycle)
	sched.Add("aggregate", cfg.Scheduler.AggregateInterval, func(ctx context.Context) error {
		_, err := svc.engine.Run(ctx)
		return err
	})
	// Closed calendar years become immutable once observed.
	sched.Add("freeze-activity", 24*time.Hour, func(ctx context.Context) error {
		frozen, err := svc.store.FreezeYearsBefore(time.Now().UTC().Year())
		if err != nil {
			return err
		}
		if frozen > 0 {
			svc.log.InfoWithFields("froze closed activity years", map[string]interface{}{
				"rows": frozen,
			})
		}
		return nil
	})

	sched.Start(ctx)
	defer sched.Stop()

	server := api.NewServer(svc.store, &cfg.API, svc.log)
	return server.Start(ctx)
}
