package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/and161185/oaimirror/internal/app"
	"github.com/and161185/oaimirror/internal/config"
	"github.com/and161185/oaimirror/internal/migrate"
	"github.com/and161185/oaimirror/internal/model"
	"github.com/and161185/oaimirror/internal/repository/postgres"
	grpcserver "github.com/and161185/oaimirror/internal/server/grpc"
)

// remoteParallelism bounds concurrent trigger calls of `sync --all`.
const remoteParallelism = 4

// backend is either the remote trigger API or a locally assembled harvester.
type backend struct {
	grpcserver.Harvest
	all   func(ctx context.Context) ([]model.SyncResult, error)
	close func()
}

// openBackend is replaced in tests.
var openBackend = func(ctx context.Context, v *viper.Viper) (*backend, error) {
	if v.GetBool(keyLocal) {
		return openLocal(ctx, v)
	}
	return openRemote(v)
}

func openRemote(v *viper.Viper) (*backend, error) {
	cc, err := dial(v)
	if err != nil {
		return nil, err
	}
	c := grpcserver.NewClient(cc, bearer(v))
	return &backend{
		Harvest: c,
		all: func(ctx context.Context) ([]model.SyncResult, error) {
			cfg, err := config.Load(v.GetString(keyConfig))
			if err != nil {
				return nil, err
			}
			ids := cfg.SourceIDs()
			if len(ids) == 0 {
				return nil, errors.New("no sources configured (pass --config)")
			}
			return syncEach(ctx, c, ids)
		},
		close: func() { _ = cc.Close() },
	}, nil
}

func openLocal(ctx context.Context, v *viper.Viper) (*backend, error) {
	dsn := v.GetString(keyDSN)
	if dsn == "" {
		return nil, errors.New("--local needs --dsn or OAIMIRROR_DSN")
	}
	cfg, err := config.Load(v.GetString(keyConfig))
	if err != nil {
		return nil, err
	}
	if err := migrate.Up(ctx, dsn); err != nil {
		return nil, fmt.Errorf("migrate up: %w", err)
	}
	db, err := postgres.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	log := newLogger(v)
	a, err := app.New(cfg, db, log)
	if err == nil {
		err = a.EnsureSources(ctx, cfg)
	}
	if err != nil {
		db.Close()
		return nil, err
	}
	return &backend{
		Harvest: a.Harvester,
		all:     a.Harvester.SynchronizeAll,
		close: func() {
			_ = log.Sync()
			db.Close()
		},
	}, nil
}

// syncEach synchronizes ids concurrently. One failing source does not stop the others.
func syncEach(ctx context.Context, h grpcserver.Harvest, ids []string) ([]model.SyncResult, error) {
	var (
		mu   sync.Mutex
		errs error
		out  = make([]model.SyncResult, 0, len(ids))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(remoteParallelism)
	for _, id := range ids {
		g.Go(func() error {
			res, err := h.Synchronize(gctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", id, err))
				return nil
			}
			out = append(out, *res)
			return nil
		})
	}
	_ = g.Wait()
	return out, errs
}

func runWithBackend(cmd *cobra.Command, v *viper.Viper, fn func(ctx context.Context, b *backend) (any, error)) error {
	ctx, cancel := withTimeout(cmd, v)
	defer cancel()

	b, err := openBackend(ctx, v)
	if err != nil {
		return err
	}
	defer b.close()

	res, err := fn(ctx, b)
	if res != nil {
		if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
			return multierr.Append(err, perr)
		}
	}
	return err
}

func newSyncCmd(v *viper.Viper) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "sync [source]",
		Short: "Run an incremental harvest pass",
		Long: `sync harvests every record changed since the source watermark, window by window.

Examples:
  oaimirror sync arxiv
  oaimirror sync --all --config oaimirror.yaml
  oaimirror --local --dsn postgres://... sync --all`,
		Args: func(cmd *cobra.Command, args []string) error {
			if all && len(args) > 0 {
				return errors.New("pass a source or --all, not both")
			}
			if !all && len(args) != 1 {
				return errors.New("need exactly one source (or --all)")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithBackend(cmd, v, func(ctx context.Context, b *backend) (any, error) {
				if all {
					res, err := b.all(ctx)
					if len(res) == 0 {
						return nil, err
					}
					return res, err
				}
				res, err := b.Synchronize(ctx, args[0])
				if err != nil {
					return nil, err
				}
				return res, nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "synchronize every configured source")
	return cmd
}

func newListCmd(v *viper.Viper, use, short string, call func(ctx context.Context, b *backend, id string) (any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <source>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithBackend(cmd, v, func(ctx context.Context, b *backend) (any, error) {
				return call(ctx, b, args[0])
			})
		},
	}
}

func newCleanupCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired resumption tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWithBackend(cmd, v, func(ctx context.Context, b *backend) (any, error) {
				n, err := b.CleanupExpiredTokens(ctx)
				if err != nil {
					return nil, err
				}
				return map[string]int64{"deleted": n}, nil
			})
		},
	}
}
