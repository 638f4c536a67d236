package cli

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/martingalian/stride/dispatch"
	"github.com/martingalian/stride/engine"
	"github.com/martingalian/stride/store"
	bunstore "github.com/martingalian/stride/store/bun"
	redisstore "github.com/martingalian/stride/store/redis"
)

var (
	coordRedisAddr   string
	coordPostgresDSN string
	coordGroup       string
	coordDaemon      bool
)

var coordinateCmd = &cobra.Command{
	Use:          "coordinate",
	Short:        "Run the dispatch coordinator, or a single-group daemon",
	SilenceUsage: true,
	Long: `Without flags, scans every active group once per second and enqueues a
dispatch trigger per group with due work. With --group and --daemon, skips
the trigger queue and drives dispatch passes for that one group directly.

The command always exits 0: it is meant to be supervised by a scheduler,
and a failing invocation must not wedge the supervisor. Failures are
reported on stderr and through the log.`,
	Run: func(cmd *cobra.Command, args []string) {
		logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
		if err := runCoordinate(cmd.Context(), logger); err != nil {
			// Exit 0 regardless: the scheduler restarts us, an error
			// code would only trip alerting on ordinary restarts.
			logger.Error("coordinate failed", slog.String("error", err.Error()))
		}
	},
}

func init() {
	coordinateCmd.Flags().StringVar(&coordRedisAddr, "redis-addr", "127.0.0.1:6379", "Redis address for triggers and throttle state")
	coordinateCmd.Flags().StringVar(&coordPostgresDSN, "postgres-dsn", "", "PostgreSQL DSN for durable step records (empty: steps live in Redis)")
	coordinateCmd.Flags().StringVar(&coordGroup, "group", "", "Group to dispatch (daemon mode)")
	coordinateCmd.Flags().BoolVar(&coordDaemon, "daemon", false, "Drive one group's dispatch loop directly")
}

func runCoordinate(ctx context.Context, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, cleanup, err := buildStore(logger)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := backend.Migrate(ctx); err != nil {
		return err
	}
	if err := backend.Ping(ctx); err != nil {
		return err
	}

	if coordDaemon {
		if coordGroup == "" {
			logger.Warn("--daemon requires --group, falling back to coordinator mode")
		} else {
			eng, buildErr := engine.Build(backend, engine.WithLogger(logger))
			if buildErr != nil {
				return buildErr
			}
			daemon := dispatch.NewDaemon(eng.Runner(), coordGroup, logger)
			logger.Info("dispatch daemon starting", slog.String("group", coordGroup))
			return ignoreCancel(daemon.Run(ctx))
		}
	}

	coordinator := dispatch.NewCoordinator(backend, backend,
		dispatch.WithCoordinatorLogger(logger),
	)
	logger.Info("coordinator starting", slog.String("redis", coordRedisAddr))
	return ignoreCancel(coordinator.Run(ctx))
}

// buildStore assembles the backend from flags: Redis always carries the
// trigger queue and throttle state; Postgres, when configured, carries the
// durable step records.
func buildStore(logger *slog.Logger) (store.Store, func(), error) {
	client := goredis.NewClient(&goredis.Options{Addr: coordRedisAddr})
	rs := redisstore.New(client, redisstore.WithLogger(logger))

	if coordPostgresDSN == "" {
		return store.Layer(rs, rs, rs), func() {
			_ = client.Close() //nolint:errcheck // shutdown path
		}, nil
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(coordPostgresDSN)))
	db := bun.NewDB(sqldb, pgdialect.New())
	bs := bunstore.New(db, bunstore.WithLogger(logger))

	return store.Layer(bs, rs, rs), func() {
		_ = db.Close()     //nolint:errcheck // shutdown path
		_ = client.Close() //nolint:errcheck // shutdown path
	}, nil
}

// ignoreCancel maps the orderly-shutdown errors to nil.
func ignoreCancel(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
