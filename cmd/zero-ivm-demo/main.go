// Command zero-ivm-demo wires the engine together end to end against a
// tiny in-memory schema: it materializes a query, pushes a handful of
// changes through the change coordinator, and logs the view's state
// each time the view's listener fires. It exists to exercise the wiring, not as a
// deployable service -- there is no network transport in this engine
// (see SPEC_FULL.md §6), so there is nothing for a real server flag
// set to bind to beyond the engine's own tunables.
package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rocicorp/zero-ivm/internal/channel"
	"github.com/rocicorp/zero-ivm/internal/config"
	"github.com/rocicorp/zero-ivm/internal/coordinator"
	"github.com/rocicorp/zero-ivm/internal/lifecycle"
	"github.com/rocicorp/zero-ivm/internal/pipeline"
	"github.com/rocicorp/zero-ivm/internal/query"
	"github.com/rocicorp/zero-ivm/internal/schema"
	"github.com/rocicorp/zero-ivm/internal/source"
	"github.com/rocicorp/zero-ivm/internal/types"
	"github.com/rocicorp/zero-ivm/internal/util/stopper"
	"github.com/rocicorp/zero-ivm/internal/view"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

type loggingSink struct{}

func (loggingSink) Flush(_ context.Context, patches []channel.Patch) error {
	for _, p := range patches {
		log.WithFields(log.Fields{"op": p.Op, "hash": p.Hash, "ttl": p.TTL}).Info("queries patch")
	}
	return nil
}

func main() {
	var cfg config.Config
	cfg.Bind(pflag.CommandLine)
	logLevel := pflag.String("logLevel", "info", "logrus level: trace, debug, info, warn, error")
	pflag.Parse()

	if err := cfg.Preflight(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	level, err := log.ParseLevel(*logLevel)
	if err != nil {
		log.WithError(err).Fatal("invalid logLevel")
	}
	log.SetLevel(level)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		log.WithError(err).Fatal("zero-ivm-demo failed")
	}
}

func run(ctx context.Context, cfg config.Config) error {
	sch := schema.New().
		Table(schema.TableDef{
			Name:       "user",
			Columns:    []string{"id", "name"},
			PrimaryKey: types.PrimaryKey{"id"},
		}).
		Table(schema.TableDef{
			Name:       "issue",
			Columns:    []string{"id", "title", "closed", "ownerId"},
			PrimaryKey: types.PrimaryKey{"id"},
			Relationships: map[string]schema.RelationshipDef{
				"owner": {
					Name:        "owner",
					DestTable:   "user",
					SourceField: []string{"ownerId"},
					DestField:   []string{"id"},
				},
			},
		})

	sources := map[string]*source.Source{
		"user": source.New(&types.SourceSchema{
			Table: "user", Columns: []string{"id", "name"}, PrimaryKey: types.PrimaryKey{"id"},
		}),
		"issue": source.New(&types.SourceSchema{
			Table: "issue", Columns: []string{"id", "title", "closed", "ownerId"}, PrimaryKey: types.PrimaryKey{"id"},
		}),
	}

	stop := stopper.WithContext(ctx)
	coord := coordinator.New(nil)
	for _, s := range sources {
		coord.Register(s)
	}

	builder := pipeline.New(sch, pipeline.Delegate{
		GetSource: func(table string) (*source.Source, error) {
			s, ok := sources[table]
			if !ok {
				return nil, types.NewBuilderError("unknown table: " + table)
			}
			return s, nil
		},
	})

	ch := channel.New(loggingSink{}, cfg.FlushInterval, stop)
	mgr := lifecycle.New(builder, lifecycle.Config{
		DefaultTTL:               cfg.DefaultTTL,
		DefaultQueryComplete:     cfg.DefaultQueryComplete,
		SlowMaterializeThreshold: cfg.SlowMaterializeThreshold,
	}, ch, nil, stop)

	q, err := query.New(sch, "issue").
		Where("closed", "", false).
		Related("owner", nil)
	if err != nil {
		return err
	}

	v, err := mgr.Materialize(ctx, q, cfg.DefaultTTL)
	if err != nil {
		return err
	}
	v.AddListener(func(root []*view.Entry, rt view.ResultType) {
		b, _ := json.Marshal(entryRows(root))
		log.WithField("resultType", rt).Infof("view updated: %s", b)
	})

	if err := coord.Begin(); err != nil {
		return err
	}
	if err := coord.Push("user", types.SourceChange{Kind: types.SourceAdd, Row: types.Row{"id": "u1", "name": "Ann"}}); err != nil {
		return err
	}
	if err := coord.Push("issue", types.SourceChange{Kind: types.SourceAdd, Row: types.Row{"id": "i1", "title": "t1", "closed": false, "ownerId": "u1"}}); err != nil {
		return err
	}
	if err := coord.Commit(ctx); err != nil {
		return err
	}

	log.Info("zero-ivm-demo running; press ctrl-c to stop")
	<-ctx.Done()
	mgr.Stop(5 * time.Second)
	return nil
}

func entryRows(entries []*view.Entry) []types.Row {
	out := make([]types.Row, len(entries))
	for i, e := range entries {
		out[i] = e.Row
	}
	return out
}
