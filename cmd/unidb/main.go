// Command unidb runs schema sync, record and sequence operations against
// a configured store, and can serve them over HTTP.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/rzpsarthak13/unidb/pkg/unidb"
)

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "unidb",
		Usage: "Uniform records, schemas and sequences over DynamoDB, Redis, MySQL or memory",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML config file",
				Sources: cli.EnvVars("UNIDB_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "schema",
				Aliases: []string{"s"},
				Usage:   "YAML schema file defining the tables",
				Sources: cli.EnvVars("UNIDB_SCHEMA"),
			},
			&cli.StringFlag{
				Name:    "adapter",
				Usage:   "adapter type (memory, dynamodb, redis, mysql), overrides the config",
				Sources: cli.EnvVars("UNIDB_ADAPTER"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "debug, info, warn or error",
				Value:   "warn",
				Sources: cli.EnvVars("UNIDB_LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "console or json",
				Value:   "console",
				Sources: cli.EnvVars("UNIDB_LOG_FORMAT"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "sync",
				Usage:  "Create or update the backing tables for every schema",
				Action: runSync,
			},
			{
				Name:      "get",
				Usage:     "Print the first record matching the conditions",
				ArgsUsage: "<table> [field=value...]",
				Action:    runGet,
			},
			{
				Name:      "find",
				Usage:     "Print every record matching the conditions",
				ArgsUsage: "<table> [field=value...]",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"n"},
						Usage:   "maximum number of records, 0 for all",
					},
				},
				Action: runFind,
			},
			{
				Name:      "set",
				Usage:     "Validate and upsert a record, values are parsed as JSON when possible",
				ArgsUsage: "<table> field=value...",
				Action:    runSet,
			},
			{
				Name:      "remove",
				Usage:     "Delete every record matching the conditions",
				ArgsUsage: "<table> [field=value...]",
				Action:    runRemove,
			},
			{
				Name:      "count",
				Usage:     "Count the records matching the conditions",
				ArgsUsage: "<table> [field=value...]",
				Action:    runCount,
			},
			{
				Name:      "seq",
				Usage:     "Print the next value of a sequence",
				ArgsUsage: "<key>",
				Action:    runSeq,
			},
			serveCommand(),
		},
	}
}

// openDB builds, connects and syncs a DB from the global flags. The
// caller must Close it.
func openDB(ctx context.Context, cmd *cli.Command) (*unidb.DB, *zap.Logger, error) {
	logger, err := newLogger(cmd.String("log-level"), cmd.String("log-format"))
	if err != nil {
		return nil, nil, err
	}

	cfg, err := loadConfig(cmd.String("config"), cmd.String("adapter"))
	if err != nil {
		return nil, nil, err
	}

	db, err := unidb.New(cfg,
		unidb.WithLogger(logger),
		unidb.WithSyncHook(unidb.SyncHookFunc(func(_ context.Context, name string, spec *unidb.TableSpec) error {
			logger.Info("table ready",
				zap.String("table", name),
				zap.Strings("key", spec.Key),
				zap.Duration("ttl", spec.TTL))
			return nil
		})))
	if err != nil {
		return nil, nil, err
	}

	if err := prepare(ctx, db, cmd.String("schema")); err != nil {
		_ = db.Close(ctx)
		_ = logger.Sync()
		return nil, nil, err
	}
	return db, logger, nil
}

func prepare(ctx context.Context, db *unidb.DB, schemaPath string) error {
	if schemaPath != "" {
		if err := db.LoadSchemaFile(schemaPath); err != nil {
			return err
		}
	}
	if err := db.Connect(ctx); err != nil {
		return err
	}
	return db.Setup(ctx)
}

// withTable opens the DB and resolves the table named by the first
// argument. The remaining arguments are parsed as field=value pairs.
func withTable(ctx context.Context, cmd *cli.Command, fn func(t *unidb.Table, doc map[string]any) error) error {
	if cmd.Args().Len() < 1 {
		return fmt.Errorf("usage: unidb %s %s", cmd.Name, cmd.ArgsUsage)
	}
	doc, err := parseAssignments(cmd.Args().Tail())
	if err != nil {
		return err
	}

	db, logger, err := openDB(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() {
		_ = db.Close(ctx)
		_ = logger.Sync()
	}()

	t, err := db.Table(cmd.Args().First())
	if err != nil {
		return err
	}
	return fn(t, doc)
}

func runSync(ctx context.Context, cmd *cli.Command) error {
	db, logger, err := openDB(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	defer db.Close(ctx)
	return printJSON(cmd, map[string]any{"tables": db.Tables()})
}

func runGet(ctx context.Context, cmd *cli.Command) error {
	return withTable(ctx, cmd, func(t *unidb.Table, doc map[string]any) error {
		rec, err := t.Get(ctx, unidb.Conditions(doc))
		if err != nil {
			return err
		}
		return printJSON(cmd, rec)
	})
}

func runFind(ctx context.Context, cmd *cli.Command) error {
	return withTable(ctx, cmd, func(t *unidb.Table, doc map[string]any) error {
		var opts []unidb.CallOption
		if limit := int(cmd.Int("limit")); limit > 0 {
			opts = append(opts, unidb.Limit(limit))
		}
		recs, err := t.Find(ctx, unidb.Conditions(doc), opts...)
		if err != nil {
			return err
		}
		if recs == nil {
			recs = []unidb.Record{}
		}
		return printJSON(cmd, recs)
	})
}

func runSet(ctx context.Context, cmd *cli.Command) error {
	return withTable(ctx, cmd, func(t *unidb.Table, doc map[string]any) error {
		stored, err := t.Set(ctx, doc)
		if err != nil {
			return err
		}
		return printJSON(cmd, stored)
	})
}

func runRemove(ctx context.Context, cmd *cli.Command) error {
	return withTable(ctx, cmd, func(t *unidb.Table, doc map[string]any) error {
		return t.Remove(ctx, unidb.Conditions(doc))
	})
}

func runCount(ctx context.Context, cmd *cli.Command) error {
	return withTable(ctx, cmd, func(t *unidb.Table, doc map[string]any) error {
		n, err := t.Count(ctx, unidb.Conditions(doc))
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]any{"count": n})
	})
}

func runSeq(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return fmt.Errorf("usage: unidb seq <key>")
	}
	db, logger, err := openDB(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	defer db.Close(ctx)

	v, err := db.Sequence(cmd.Args().First()).Get(ctx)
	if err != nil {
		return err
	}
	return printJSON(cmd, map[string]any{"key": cmd.Args().First(), "value": v})
}

func printJSON(cmd *cli.Command, v any) error {
	enc := json.NewEncoder(cmd.Root().Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
