package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"usagewatch/internal/app"
	"usagewatch/internal/monitor"
)

const oneshotTimeout = 5 * time.Minute

// runOneshot builds the app, restores persisted state, runs op, and tears
// everything down again. Used by `check` and `report`.
func runOneshot(cfgPath string, op func(ctx context.Context, m *monitor.Service) monitor.Result) error {
	ctx, cancel := context.WithTimeout(context.Background(), oneshotTimeout)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Monitor().Restore(ctx); err != nil {
		return err
	}
	res := op(ctx, a.Monitor())
	if !res.OK {
		return errors.New(res.Error)
	}
	return nil
}

func newCheckCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run one check cycle now and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := runOneshot(*cfgPath, func(ctx context.Context, m *monitor.Service) monitor.Result {
				return m.CheckNow(ctx)
			}); err != nil {
				return err
			}
			fmt.Println("check completed")
			return nil
		},
	}
}

func newReportCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Send a status report of the latest snapshot and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := runOneshot(*cfgPath, func(ctx context.Context, m *monitor.Service) monitor.Result {
				return m.SendReport(ctx)
			}); err != nil {
				return err
			}
			fmt.Println("report sent")
			return nil
		},
	}
}
