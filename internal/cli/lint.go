package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/davidthor/tok/internal/ctxlog"
	"github.com/davidthor/tok/pkg/graph"
	"github.com/davidthor/tok/pkg/topic"
)

// danglingRef is an ordering constraint naming a record that does not exist.
type danglingRef struct {
	file     string
	relation string
	target   string
}

func newLintCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lint [FILES...]",
		Short: "Report before and after references to missing records",
		Long: `Check that every topic named by an after or before list exists in the
store. Every record is checked when no files are given. All dangling
references are reported before the command fails.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := ctxlog.FromContext(ctx)

			s, err := openStore(cmd)
			if err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			reader := topic.NewReader(s)

			ids := args
			if len(ids) == 0 {
				ids, err = reader.ListRecords(ctx)
				if err != nil {
					return fmt.Errorf("failed to list records: %w", err)
				}
			}

			var dangling []danglingRef
			checked := map[string]bool{}
			for _, id := range ids {
				id = graph.NormalizeID(id)
				record, err := reader.Read(ctx, id)
				if err != nil {
					return err
				}

				for relation, targets := range map[string][]string{
					"after":  record.AfterIDs(),
					"before": record.BeforeIDs(),
				} {
					for i, target := range targets {
						targets[i] = graph.NormalizeID(target)
					}
					for _, target := range graph.DedupIDs(targets) {
						exists, ok := checked[target]
						if !ok {
							exists, err = s.Exists(ctx, target)
							if err != nil {
								return fmt.Errorf("failed to check %s: %w", target, err)
							}
							checked[target] = exists
						}
						if !exists {
							dangling = append(dangling, danglingRef{file: id, relation: relation, target: target})
						}
					}
				}
			}
			logger.Debug("checked references", "records", len(ids), "targets", len(checked))

			if len(dangling) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "%d records checked, no dangling references\n", len(ids))
				return nil
			}

			sortDangling(dangling)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-32s %-8s %s\n", "FILE", "FIELD", "MISSING")
			for _, d := range dangling {
				fmt.Fprintf(out, "%-32s %-8s %s\n", d.file, d.relation, d.target)
			}
			return fmt.Errorf("%d dangling references", len(dangling))
		},
	}

	return cmd
}

func sortDangling(refs []danglingRef) {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].file != refs[j].file {
			return refs[i].file < refs[j].file
		}
		if refs[i].relation != refs[j].relation {
			return refs[i].relation < refs[j].relation
		}
		return refs[i].target < refs[j].target
	})
}
