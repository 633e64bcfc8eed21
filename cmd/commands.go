package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/draftwatch/internal/adapters/repository"
	service "github.com/okian/draftwatch/internal/app"
	"github.com/okian/draftwatch/internal/domain/consensus"
	"github.com/okian/draftwatch/internal/domain/model"
	"github.com/okian/draftwatch/internal/report"
	"github.com/okian/draftwatch/internal/simulate"
	"github.com/okian/draftwatch/pkg/logger"
)

var (
	errUnknownLevel = errors.New("unknown risk level")
	errNotDetected  = errors.New("colluding pair was not detected")
)

// withStack loads configuration, builds the service without starting it and
// runs fn against it.
func withStack(ctx context.Context, fn func(context.Context, *stack) error) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	rt, err := buildStack(ctx, cfg, logger.Get())
	if err != nil {
		return err
	}
	return errors.Join(fn(ctx, rt), rt.Close())
}

func newScoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "score <session-id>",
		Short: "Score a completed session and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd.Context(), func(ctx context.Context, rt *stack) error {
				result, err := rt.svc.ScoreSession(ctx, args[0])
				if err != nil {
					return err
				}
				return report.WriteSession(cmd.OutOrStdout(), result, time.Now())
			})
		},
	}
}

func newRescoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rescore",
		Short: "Score every completed session whose result is still pending",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStack(cmd.Context(), func(ctx context.Context, rt *stack) error {
				n, err := rt.svc.RescorePending(ctx)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "rescored %d pending sessions\n", n)
				return err
			})
		},
	}
}

func newAggregateCmd() *cobra.Command {
	var (
		lookback time.Duration
		level    string
	)
	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Rebuild pair histories and print the pairs at or above a risk level",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			minLevel, ok := model.ParseRiskLevel(level)
			if !ok {
				return fmt.Errorf("%q: %w", level, errUnknownLevel)
			}
			return withStack(cmd.Context(), func(ctx context.Context, rt *stack) error {
				if lookback <= 0 {
					lookback = rt.lookback
				}
				summary, err := rt.svc.RunAggregation(ctx, lookback)
				if err != nil {
					return err
				}
				pairs, err := rt.svc.ListPairs(ctx, minLevel)
				if err != nil {
					return err
				}
				return writeAggregation(cmd.OutOrStdout(), summary.SessionsScanned, summary.PairsAnalyzed, pairs, minLevel)
			})
		},
	}
	cmd.Flags().DurationVar(&lookback, "lookback", 0, "history window (default aggregation.lookback)")
	cmd.Flags().StringVar(&level, "level", string(model.RiskHigh), "minimum risk level to print: low, medium, high, critical")
	return cmd
}

func writeAggregation(w io.Writer, sessions, analyzed int, pairs []*model.PairHistory, minLevel model.RiskLevel) error {
	if _, err := fmt.Fprintf(w, "scanned %d sessions, analyzed %d pairs, %d at %s or above\n",
		sessions, analyzed, len(pairs), minLevel); err != nil {
		return err
	}
	now := time.Now()
	for _, h := range pairs {
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
		if err := report.WriteHistory(w, h, now); err != nil {
			return err
		}
	}
	return nil
}

func newSimulateCmd() *cobra.Command {
	cfg := simulate.Config{}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Play a synthetic draft with one colluding pair and report whether it is caught",
		Long: "simulate generates a snake draft in which two drafters collude and plays it " +
			"either in-process or against a running server (--url). Against a server, start it " +
			"with consensus.path pointing at the file written by --consensus-out so both sides " +
			"agree on expected ranks.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSimulation(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&cfg.BaseURL, "url", "", "server base URL; empty runs in-process")
	flags.StringVar(&cfg.SessionID, "session", "", "session id (default random)")
	flags.IntVar(&cfg.Participants, "participants", simulate.DefaultParticipants, "drafters in the session")
	flags.IntVar(&cfg.Rounds, "rounds", simulate.DefaultRounds, "picks per drafter")
	flags.Uint64Var(&cfg.Seed, "seed", 1, "random seed")
	flags.DurationVar(&cfg.PickInterval, "pick-interval", simulate.DefaultPickInterval, "time between picks")
	flags.DurationVar(&cfg.Timeout, "timeout", simulate.DefaultTimeout, "request timeout and drain wait")
	flags.StringVar(&cfg.ConsensusOut, "consensus-out", "", "write the generated consensus table to this CSV path")
	return cmd
}

func runSimulation(ctx context.Context, cfg simulate.Config, out io.Writer) error {
	if cfg.Logger == nil {
		cfg.Logger = logger.Named("simulate")
	}
	start := time.Now().Add(-time.Duration(cfg.Participants*cfg.Rounds) * cfg.PickInterval)
	draft := simulate.Generate(cfg, start)

	var target simulate.Target
	if cfg.BaseURL != "" {
		target = simulate.NewHTTPTarget(cfg.BaseURL, cfg.Timeout)
	} else {
		// One tracker worker applies picks in draft order.
		svc := service.New(repository.NewMemoryStore(),
			service.WithLogger(cfg.Logger.Named("service")),
			service.WithWorkerCount(1),
			service.WithAggregationSchedule(0, 0),
			service.WithConsensus(consensus.Static(draft.Consensus)),
		)
		if err := svc.Start(ctx); err != nil {
			return err
		}
		defer func() { _ = svc.Stop(context.WithoutCancel(ctx)) }()
		target = simulate.InProcess{Pipeline: svc}
	}

	outcome, err := simulate.Run(ctx, cfg, draft, target, out)
	if err != nil {
		return err
	}
	if !outcome.Detected() {
		return fmt.Errorf("%s: %w", draft.Colluders, errNotDetected)
	}
	return nil
}
