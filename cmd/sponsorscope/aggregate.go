package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Recompute earnings estimates and leaderboard ranks",
	RunE:  runAggregate,
}

func runAggregate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	svc, err := buildServices(cfg)
	if err != nil {
		return err
	}
	defer svc.store.Close()

	summary, err := svc.engine.Run(context.Background())
	if err != nil {
		return err
	}

	fmt.Printf("Updated %d users (median tier $%.2f)\n", summary.UsersUpdated, summary.MedianTier)
	return nil
}
