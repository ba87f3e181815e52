package main

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"sponsorscope/internal/worker"
	"sponsorscope/pkg/aggregate"
	"sponsorscope/pkg/config"
	"sponsorscope/pkg/crawler"
	"sponsorscope/pkg/forge"
	"sponsorscope/pkg/gender"
	"sponsorscope/pkg/harvester"
	"sponsorscope/pkg/logger"
	"sponsorscope/pkg/ratelimit"
	"sponsorscope/pkg/store"
)

var crawlSeeds []string

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Run one crawl and refresh cycle",
	Long: `Walks the follower and sponsor graphs from the configured seeds,
refreshes every discovered user, then recomputes earnings estimates and
leaderboard ranks.`,
	RunE: runCrawl,
}

func init() {
	crawlCmd.Flags().StringSliceVar(&crawlSeeds, "seed", nil, "seed username (repeatable, overrides config)")
}

// staleRefreshLimit bounds how many overdue users one cycle picks back up
const staleRefreshLimit = 500

// services holds the wired pipeline components for one process
type services struct {
	store    *store.Store
	pipeline *worker.Pipeline
	crawler  func(pool *worker.Pool, seeds []string) *crawler.Crawler
	engine   *aggregate.Engine
	cfg      *config.Config
	log      logger.Logger
}

// buildServices wires the store, clients, budgets and engines from config
func buildServices(cfg *config.Config) (*services, error) {
	log := logger.GetLogger()

	st, err := store.New(cfg.Store.Path, log)
	if err != nil {
		return nil, err
	}

	forgeBudget := ratelimit.NewBudget("forge", cfg.Forge.BudgetPerHour, time.Hour, log)
	forgeClient := forge.NewClient(&cfg.Forge, forgeBudget, log)

	var pronouns worker.PronounFetcher
	if cfg.Session.Login != "" && cfg.Session.Password != "" {
		sessionBudget := ratelimit.NewBudget("session", cfg.Session.BudgetPerMinute, time.Minute, log)
		h, err := harvester.New(&cfg.Session, sessionBudget, log)
		if err != nil {
			st.Close()
			return nil, err
		}
		pronouns = h
	} else {
		log.Warn("no session credentials configured, pronoun harvesting disabled")
	}

	classifier := gender.NewClassifier(&cfg.Classifier, st, log)
	pipeline := worker.NewPipeline(forgeClient, pronouns, classifier, st, cfg, log)
	engine := aggregate.NewEngine(st, &cfg.Earnings, log)

	return &services{
		store:    st,
		pipeline: pipeline,
		crawler: func(pool *worker.Pool, seeds []string) *crawler.Crawler {
			crawlCfg := cfg.Crawl
			crawlCfg.Seeds = seeds
			return crawler.New(forgeClient, st, pool, &crawlCfg, log)
		},
		engine: engine,
		cfg:    cfg,
		log:    log,
	}, nil
}

// runCycle executes one full crawl, refresh and aggregation pass. Users whose
// last refresh predates the staleness threshold join the configured seeds.
func (s *services) runCycle(ctx context.Context) error {
	s.pipeline.ResetHarvest()

	seeds := append([]string{}, s.cfg.Crawl.Seeds...)
	cutoff := time.Now().UTC().Add(-s.cfg.Crawl.StalenessThreshold)
	stale, err := s.store.ListStale(cutoff, staleRefreshLimit)
	if err != nil {
		s.log.WithError(err).Warn("stale user lookup failed, crawling seeds only")
	}
	for _, u := range stale {
		seeds = append(seeds, u.Login)
	}

	pool := worker.NewPool(ctx, s.cfg.Crawl.Workers, s.pipeline, s.log)
	pool.Start()

	var wg sync.WaitGroup
	var refreshed, failed int
	wg.Add(1)
	go func() {
		defer wg.Done()
		for result := range pool.Results() {
			if result.Success {
				refreshed++
			} else {
				failed++
			}
		}
	}()

	c := s.crawler(pool, seeds)
	stats, crawlErr := c.Run(ctx)

	pool.Stop()
	wg.Wait()

	s.log.InfoWithFields("cycle summary", map[string]interface{}{
		"visited":   stats.Visited,
		"refreshed": refreshed,
		"failed":    failed,
	})

	if crawlErr != nil {
		return crawlErr
	}

	if _, err := s.engine.Run(ctx); err != nil {
		return err
	}
	return nil
}

func runCrawl(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(crawlSeeds) > 0 {
		cfg.Crawl.Seeds = crawlSeeds
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

	return svc.runCycle(ctx)
}
