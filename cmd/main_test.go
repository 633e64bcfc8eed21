package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/draftwatch/internal/adapters/repository"
	"github.com/okian/draftwatch/internal/adapters/repository/badgerstore"
	"github.com/okian/draftwatch/internal/adapters/repository/sqlstore"
	service "github.com/okian/draftwatch/internal/app"
	"github.com/okian/draftwatch/internal/config"
	"github.com/okian/draftwatch/internal/domain/model"
	"github.com/okian/draftwatch/pkg/logger"
)

var cmdEnvVars = []string{
	"DRAFTWATCH_CONFIG",
	"DRAFTWATCH_STORAGE__DRIVER",
	"DRAFTWATCH_STORAGE__PATH",
	"DRAFTWATCH_STORAGE__DSN",
	"DRAFTWATCH_CONSENSUS__PATH",
	"DRAFTWATCH_SERVER__LOG_LEVEL",
	"DRAFTWATCH_SERVER__ADDR",
}

func TestMain(m *testing.M) {
	_ = logger.Init()
	os.Exit(m.Run())
}

func clearCmdEnv() {
	for _, v := range cmdEnvVars {
		_ = os.Unsetenv(v)
	}
}

func execute(args ...string) (string, error) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	convey.Convey("Given the root command", t, func() {
		root := newRootCmd()

		convey.Convey("Then every subcommand is registered", func() {
			names := make(map[string]bool)
			for _, c := range root.Commands() {
				names[c.Name()] = true
			}
			for _, want := range []string{"serve", "score", "rescore", "aggregate", "simulate"} {
				convey.So(names[want], convey.ShouldBeTrue)
			}
		})

		convey.Convey("Then score requires a session id", func() {
			_, err := execute("score")
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}

func TestOpenStore(t *testing.T) {
	convey.Convey("Given storage settings", t, func() {
		ctx := context.Background()
		log := logger.Nop()

		convey.Convey("When the driver is memory", func() {
			s, err := openStore(ctx, config.Storage{Driver: config.DriverMemory}, log)

			convey.Convey("Then an in-memory store is returned", func() {
				convey.So(err, convey.ShouldBeNil)
				_, ok := s.(*repository.MemoryStore)
				convey.So(ok, convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the driver is badger", func() {
			s, err := openStore(ctx, config.Storage{Driver: config.DriverBadger, Path: t.TempDir()}, log)

			convey.Convey("Then a badger store is opened", func() {
				convey.So(err, convey.ShouldBeNil)
				_, ok := s.(*badgerstore.Store)
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(s.Close(), convey.ShouldBeNil)
			})
		})

		convey.Convey("When the driver is sqlite", func() {
			dsn := "file:" + filepath.Join(t.TempDir(), "draftwatch.db")
			s, err := openStore(ctx, config.Storage{Driver: config.DriverSQLite, DSN: dsn}, log)

			convey.Convey("Then a SQL store is opened", func() {
				convey.So(err, convey.ShouldBeNil)
				_, ok := s.(*sqlstore.Store)
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(s.Close(), convey.ShouldBeNil)
			})
		})

		convey.Convey("When the driver is unknown", func() {
			_, err := openStore(ctx, config.Storage{Driver: "mongo"}, log)

			convey.Convey("Then it is rejected", func() {
				convey.So(errors.Is(err, errUnknownDriver), convey.ShouldBeTrue)
			})
		})
	})
}

func TestBuildStack(t *testing.T) {
	convey.Convey("Given the default configuration", t, func() {
		ctx := context.Background()
		cfg := config.New()

		convey.Convey("When the stack is built", func() {
			rt, err := buildStack(ctx, cfg, logger.Nop())

			convey.Convey("Then the service is ready but not started", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(rt.svc.GetStats().Started, convey.ShouldBeFalse)
				convey.So(rt.consensus, convey.ShouldBeNil)
				convey.So(rt.lookback, convey.ShouldEqual, cfg.Aggregation.Lookback)
				convey.So(rt.Close(), convey.ShouldBeNil)
			})
		})

		convey.Convey("When a consensus table is configured", func() {
			path := filepath.Join(t.TempDir(), "adp.csv")
			convey.So(os.WriteFile(path, []byte("item_id,expected_rank\nitem-001,1\n"), 0o600), convey.ShouldBeNil)
			cfg.Consensus.Path = path

			rt, err := buildStack(ctx, cfg, logger.Nop())

			convey.Convey("Then a file provider backs the scorer", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(rt.consensus, convey.ShouldNotBeNil)
				convey.So(rt.Close(), convey.ShouldBeNil)
			})
		})

		convey.Convey("When the consensus table is missing", func() {
			cfg.Consensus.Path = filepath.Join(t.TempDir(), "missing.csv")

			_, err := buildStack(ctx, cfg, logger.Nop())

			convey.Convey("Then building fails", func() {
				convey.So(err, convey.ShouldNotBeNil)
			})
		})

		convey.Convey("When the ASN database is missing", func() {
			cfg.GeoIP.ASNDBPath = filepath.Join(t.TempDir(), "missing.mmdb")

			_, err := buildStack(ctx, cfg, logger.Nop())

			convey.Convey("Then building fails", func() {
				convey.So(err, convey.ShouldNotBeNil)
			})
		})
	})
}

func TestStoreCommands(t *testing.T) {
	convey.Convey("Given a sqlite store shared between commands", t, func() {
		clearCmdEnv()
		defer clearCmdEnv()
		dsn := "file:" + filepath.Join(t.TempDir(), "draftwatch.db")
		_ = os.Setenv("DRAFTWATCH_STORAGE__DRIVER", config.DriverSQLite)
		_ = os.Setenv("DRAFTWATCH_STORAGE__DSN", dsn)
		_ = os.Setenv("DRAFTWATCH_SERVER__LOG_LEVEL", "error")

		convey.Convey("When aggregating an empty store", func() {
			out, err := execute("aggregate", "--lookback", "720h")

			convey.Convey("Then a zero summary is printed", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(out, convey.ShouldContainSubstring, "scanned 0 sessions, analyzed 0 pairs, 0 at high or above")
			})
		})

		convey.Convey("When aggregating with an unknown level", func() {
			_, err := execute("aggregate", "--level", "severe")

			convey.Convey("Then the level is rejected", func() {
				convey.So(errors.Is(err, errUnknownLevel), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When rescoring an empty store", func() {
			out, err := execute("rescore")

			convey.Convey("Then nothing is pending", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(out, convey.ShouldContainSubstring, "rescored 0 pending sessions")
			})
		})

		convey.Convey("When scoring a session that never ran", func() {
			_, err := execute("score", "ghost")

			convey.Convey("Then scoring fails", func() {
				convey.So(err, convey.ShouldNotBeNil)
			})
		})

		convey.Convey("When the configured driver is unknown", func() {
			_ = os.Setenv("DRAFTWATCH_STORAGE__DRIVER", "mongo")
			_, err := execute("rescore")

			convey.Convey("Then configuration fails", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})
	})
}

func TestSimulateCommand(t *testing.T) {
	convey.Convey("Given an in-process simulation", t, func() {
		out, err := execute("simulate", "--seed", "42", "--participants", "10", "--rounds", "12", "--session", "cli-sim")

		convey.Convey("Then the colluding pair is reported as detected", func() {
			convey.So(err, convey.ShouldBeNil)
			convey.So(out, convey.ShouldContainSubstring, "cli-sim")
			convey.So(out, convey.ShouldContainSubstring, "detected: true")
		})
	})
}

func TestServe(t *testing.T) {
	convey.Convey("Given a configured server", t, func() {
		clearCmdEnv()
		defer clearCmdEnv()
		_ = os.Setenv("DRAFTWATCH_SERVER__LOG_LEVEL", "error")
		_ = os.Setenv("DRAFTWATCH_SERVER__ADDR", "127.0.0.1:0")

		convey.Convey("When its context is cancelled", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
			defer cancel()
			err := serve(ctx)

			convey.Convey("Then it shuts down cleanly", func() {
				convey.So(err, convey.ShouldBeNil)
			})
		})
	})
}

func TestMetricsUpdaters(t *testing.T) {
	convey.Convey("Given the metrics updaters", t, func() {
		svc := service.New(repository.NewMemoryStore(), service.WithLogger(logger.Nop()))

		convey.Convey("Then one-shot updates do not panic", func() {
			convey.So(updateSystemMetrics, convey.ShouldNotPanic)
			convey.So(func() { updateServiceMetrics(svc.GetStats()) }, convey.ShouldNotPanic)
		})

		convey.Convey("Then the loops return when their context ends", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			convey.So(func() { startSystemMetricsUpdater(ctx) }, convey.ShouldNotPanic)
			convey.So(func() { startServiceMetricsUpdater(ctx, svc) }, convey.ShouldNotPanic)
		})
	})
}

func TestWriteAggregation(t *testing.T) {
	convey.Convey("Given aggregated pair histories", t, func() {
		now := time.Now()
		pairs := []*model.PairHistory{{
			Pair:                  model.PairKey{Low: "alice", High: "bob"},
			OverallRiskLevel:      model.RiskCritical,
			TotalSessionsTogether: 6,
			FirstSessionTogether:  now.Add(-30 * 24 * time.Hour),
			LastSessionTogether:   now.Add(-24 * time.Hour),
		}}
		var out bytes.Buffer

		err := writeAggregation(&out, 9, 4, pairs, model.RiskHigh)

		convey.Convey("Then the summary and each history are printed", func() {
			convey.So(err, convey.ShouldBeNil)
			convey.So(out.String(), convey.ShouldContainSubstring, "scanned 9 sessions, analyzed 4 pairs, 1 at high or above")
			convey.So(out.String(), convey.ShouldContainSubstring, "Pair alice / bob: CRITICAL")
		})
	})
}
