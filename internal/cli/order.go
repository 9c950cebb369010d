package cli

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/davidthor/tok/pkg/render"
)

func newOrderCmd() *cobra.Command {
	var (
		flags  pipelineFlags
		format string
	)

	cmd := &cobra.Command{
		Use:   "order [FILES...]",
		Short: "Print the reading order without rendering the document",
		Long: `Print one line per topic in reading order with its aggregate cost, heading
depth, record path and label.`,
		Example: `  tok order thm_lagrange.yaml
  tok order --all --headings -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := runPipeline(cmd, &flags, args)
			if err != nil {
				return err
			}
			return writeTo(cmd.OutOrStdout(), func(w io.Writer) error {
				return render.Outline(w, p.result, format)
			})
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&format, "output", "o", "table", "Output format: table, json, yaml")

	return cmd
}
