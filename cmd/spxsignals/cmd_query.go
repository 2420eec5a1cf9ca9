package main

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/spxsignals/internal/analytics/crossmarket"
	"github.com/sawpanic/spxsignals/internal/analytics/fib"
	"github.com/sawpanic/spxsignals/internal/analytics/memory"
	"github.com/sawpanic/spxsignals/internal/application"
	"github.com/sawpanic/spxsignals/internal/snapshot"
)

const queryTimeout = 30 * time.Second

// withService runs fn against a freshly wired service and closes it afterwards.
func withService(fn func(ctx context.Context, svc *application.Service) error) error {
	svc, _, err := loadService(nil)
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	return fn(ctx, svc)
}

func newBasisCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "basis",
		Short: "Print the current SPX/SPY basis state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(ctx context.Context, svc *application.Service) error {
				state, err := svc.Basis.GetBasisState(ctx, crossmarket.BasisOptions{ForceRefresh: forceRefresh})
				if err != nil {
					return err
				}
				return printJSON(state)
			})
		},
	}
}

func newImpactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "impact",
		Short: "Project SPY gamma levels onto SPX",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(ctx context.Context, svc *application.Service) error {
				state, err := svc.Impact.GetSpyImpactState(ctx, crossmarket.ImpactOptions{ForceRefresh: forceRefresh})
				if err != nil {
					return err
				}
				return printJSON(state)
			})
		},
	}
}

func newFibCmd() *cobra.Command {
	var (
		date  string
		basis float64
	)
	cmd := &cobra.Command{
		Use:   "fib",
		Short: "Build the cross-validated fibonacci ladder",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := fib.Options{ForceRefresh: forceRefresh, AsOfDate: date}
			if cmd.Flags().Changed("basis") {
				opts.BasisCurrent = &basis
			}
			return withService(func(ctx context.Context, svc *application.Service) error {
				levels, err := svc.Fib.GetFibLevels(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(levels)
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "As-of date (YYYY-MM-DD), defaults to today (UTC)")
	cmd.Flags().Float64Var(&basis, "basis", 0, "Use this basis instead of estimating it")
	return cmd
}

func newMemoryCmd() *cobra.Command {
	var q memory.Query
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Score a setup against its historical analogs",
		RunE: func(cmd *cobra.Command, args []string) error {
			q.ForceRefresh = forceRefresh
			return withService(func(ctx context.Context, svc *application.Service) error {
				return printJSON(svc.Memory.GetLevelMemoryContext(ctx, q))
			})
		},
	}
	cmd.Flags().StringVar(&q.SessionDate, "date", "", "Session date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&q.SetupType, "setup", "", "Setup type")
	cmd.Flags().StringVar(&q.Direction, "direction", "", "bullish or bearish")
	cmd.Flags().Float64Var(&q.EntryMid, "entry", 0, "Entry zone midpoint")
	cmd.Flags().IntVar(&q.LookbackSessions, "lookback", memory.DefaultLookbackSessions, "Sessions to look back")
	cmd.Flags().Float64Var(&q.TolerancePoints, "tolerance", memory.DefaultTolerancePoints, "Price tolerance in points")
	return cmd
}

func newSnapshotCmd() *cobra.Command {
	var (
		date string
		wait time.Duration
	)
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Fetch or build the shared composite snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := application.SnapshotOptions{
				ForceRefresh: forceRefresh,
				AsOfDate:     date,
				Wait:         snapshot.WaitOptions{Timeout: wait},
			}
			return withService(func(ctx context.Context, svc *application.Service) error {
				snap, outcome, err := svc.Snapshot(ctx, opts)
				if err != nil {
					return err
				}
				log.Info().Str("outcome", string(outcome)).Strs("degraded", snap.Degraded).Msg("Snapshot ready")
				return printJSON(snap)
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "As-of date for the fibonacci ladder")
	cmd.Flags().DurationVar(&wait, "wait", snapshot.DefaultWaitTimeout, "How long to wait for another process's build")
	return cmd
}
