package cli

import (
	"archivecore/internal/app"
	"archivecore/internal/changeset"
	"archivecore/internal/graph"
	"archivecore/pkg/domain"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a stored record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), rootOpts, func(ctx context.Context, rt *app.Runtime) error {
				rec, err := rt.Adapter.FindByID(ctx, domain.ID(args[0]))
				if err != nil {
					return err
				}
				return newFormatter(rootOpts, cmd.OutOrStdout()).Record(rec)
			})
		},
	}
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a record through its delete pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), rootOpts, func(ctx context.Context, rt *app.Runtime) error {
				rec, err := rt.Adapter.FindByID(ctx, domain.ID(args[0]))
				if err != nil {
					return err
				}
				if err := rt.Persister.Delete(ctx, changeset.New(rec, changeset.WithTypes(rt.Persister.Types()))); err != nil {
					return err
				}
				return newFormatter(rootOpts, cmd.OutOrStdout()).Value("deleted", rec.ID)
			})
		},
	}
}

func typeFilter(types []string) graph.Predicate {
	if len(types) == 0 {
		return nil
	}
	out := make([]domain.RecordType, len(types))
	for i, t := range types {
		out[i] = domain.RecordType(t)
	}
	return graph.OfType(out...)
}

type graphCommand struct {
	use, short string
	run        func(ctx context.Context, e *graph.Engine, rec domain.Record, f *OutputFormatter, types []string, property string) error
}

func newGraphCommands(rootOpts *RootOptions) []*cobra.Command {
	defs := []graphCommand{
		{use: "members", short: "List the direct members of a record", run: func(ctx context.Context, e *graph.Engine, rec domain.Record, f *OutputFormatter, _ []string, _ string) error {
			recs, err := e.Members(ctx, rec)
			if err != nil {
				return err
			}
			return f.Records(recs)
		}},
		{use: "parents", short: "List the records that hold a record as a member", run: func(ctx context.Context, e *graph.Engine, rec domain.Record, f *OutputFormatter, _ []string, _ string) error {
			recs, err := e.Parents(ctx, rec)
			if err != nil {
				return err
			}
			return f.Records(recs)
		}},
		{use: "deep-members", short: "List every transitive member of a record", run: func(ctx context.Context, e *graph.Engine, rec domain.Record, f *OutputFormatter, types []string, _ string) error {
			recs, err := e.DeepMembers(ctx, rec)
			if err != nil {
				return err
			}
			pred := typeFilter(types)
			var out []domain.Record
			for _, m := range recs {
				if pred == nil || pred(m) {
					out = append(out, m)
				}
			}
			return f.Records(out)
		}},
		{use: "deep-count", short: "Count the transitive members of a record", run: func(ctx context.Context, e *graph.Engine, rec domain.Record, f *OutputFormatter, types []string, _ string) error {
			n, err := e.DeepCount(ctx, rec, typeFilter(types))
			if err != nil {
				return err
			}
			return f.Value("count", n)
		}},
		{use: "fingerprint", short: "Hash the transitive members of a record (leaves unless --type is given)", run: func(ctx context.Context, e *graph.Engine, rec domain.Record, f *OutputFormatter, types []string, _ string) error {
			fp, err := e.Fingerprint(ctx, rec, typeFilter(types))
			if err != nil {
				return err
			}
			return f.Value("fingerprint", fp)
		}},
		{use: "inverse", short: "List records whose --property references a record", run: func(ctx context.Context, e *graph.Engine, rec domain.Record, f *OutputFormatter, _ []string, property string) error {
			if property == "" {
				return fmt.Errorf("inverse requires --property")
			}
			recs, err := e.InverseReferences(ctx, rec, property)
			if err != nil {
				return err
			}
			return f.Records(recs)
		}},
	}
	cmds := make([]*cobra.Command, 0, len(defs))
	for _, def := range defs {
		var (
			types    []string
			property string
		)
		cmd := &cobra.Command{
			Use:   def.use + " <id>",
			Short: def.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withRuntime(cmd.Context(), rootOpts, func(ctx context.Context, rt *app.Runtime) error {
					e := rt.Persister.Engine()
					rec, err := e.Find(ctx, domain.ID(args[0]))
					if err != nil {
						return err
					}
					return def.run(ctx, e, rec, newFormatter(rootOpts, cmd.OutOrStdout()), types, property)
				})
			},
		}
		switch def.use {
		case "deep-members", "deep-count", "fingerprint":
			cmd.Flags().StringSliceVarP(&types, "type", "t", nil, "restrict to these record types")
		case "inverse":
			cmd.Flags().StringVarP(&property, "property", "p", "", "attribute holding the reference")
		}
		cmds = append(cmds, cmd)
	}
	return cmds
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "query <name> [key=value ...]",
		Short: "Run a named graph query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := graph.Params{}
			for _, kv := range args[1:] {
				k, v, ok := strings.Cut(kv, "=")
				if !ok || k == "" {
					return fmt.Errorf("query parameter %q must be key=value", kv)
				}
				params[k] = v
			}
			return withRuntime(cmd.Context(), rootOpts, func(ctx context.Context, rt *app.Runtime) error {
				res, err := rt.Queries.Run(ctx, args[0], params)
				if err != nil {
					return err
				}
				f := newFormatter(rootOpts, cmd.OutOrStdout())
				switch {
				case res.Records != nil:
					return f.Records(res.Records)
				case res.IDs != nil:
					return f.Value("ids", res.IDs)
				default:
					return f.Value("count", res.Count)
				}
			})
		},
	}
}

// NewQueriesCommand lists the registered query names.
func NewQueriesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "queries",
		Short: "List the named graph queries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			names := graph.NewDefaultRegistry(graph.NewEngine(nil)).Names()
			sort.Strings(names)
			f := newFormatter(rootOpts, cmd.OutOrStdout())
			if f.Format == "json" {
				return f.JSON(names)
			}
			_, err := fmt.Fprintln(f.Writer, strings.Join(names, "\n"))
			return err
		},
	}
}
