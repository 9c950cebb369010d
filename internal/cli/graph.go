package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/davidthor/tok/pkg/graph/visual"
	"github.com/davidthor/tok/pkg/topic"
)

func newGraphCmd() *cobra.Command {
	var (
		flags       pipelineFlags
		groupByDir  bool
		direction   string
		includeRoot bool
		showCost    bool
		title       string
		imageFile   string
		width       int
		height      int
		theme       string
		background  string
	)

	cmd := &cobra.Command{
		Use:   "graph [FILES...]",
		Short: "Print the reduced topic graph as a Mermaid flowchart",
		Long: `Print the topic graph, after redundant edges are removed, as a Mermaid
flowchart. Arrows point from a prerequisite to the topic that needs it.

With --image the flowchart is rendered to a PNG, SVG or PDF file, chosen by
the file extension. This requires the mermaid-cli (mmdc) binary on $PATH.`,
		Example: `  tok graph thm_lagrange.yaml
  tok graph --all --group-by-dir --direction LR
  tok graph --all --image graph.svg --theme dark`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := runPipeline(cmd, &flags, args)
			if err != nil {
				return err
			}

			mopts := visual.MermaidOptions[topic.Topic]{
				GroupByDirectory: groupByDir,
				Direction:        direction,
				Title:            title,
				IncludeRoot:      includeRoot,
				ShowCost:         showCost,
				Label:            topic.Label,
			}

			if imageFile != "" {
				img, err := visual.RenderImage(cmd.Context(), p.result.Graph, mopts, visual.ImageOptions{
					Format:     visual.FormatFromPath(imageFile),
					Width:      width,
					Height:     height,
					Theme:      theme,
					Background: background,
					Binary:     viper.GetString(ConfigKeyMmdc),
				})
				if err != nil {
					return err
				}
				if err := os.WriteFile(imageFile, img, 0644); err != nil {
					return fmt.Errorf("failed to write %s: %w", imageFile, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", imageFile)
				return nil
			}

			diagram, err := visual.RenderMermaid(p.result.Graph, mopts)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), diagram)
			return err
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&groupByDir, "group-by-dir", false, "Group topics into subgraphs by directory")
	cmd.Flags().StringVar(&direction, "direction", "TD", "Flowchart direction: TD or LR")
	cmd.Flags().BoolVar(&includeRoot, "include-root", false, "Draw the synthetic root node")
	cmd.Flags().BoolVar(&showCost, "show-cost", false, "Show the aggregate cost of every topic")
	cmd.Flags().StringVar(&title, "title", "", "Diagram title")
	cmd.Flags().StringVar(&imageFile, "image", "", "Render to an image file (.png, .svg or .pdf) instead of printing Mermaid text")
	cmd.Flags().IntVar(&width, "width", 0, "Image width in pixels (0 for auto)")
	cmd.Flags().IntVar(&height, "height", 0, "Image height in pixels (0 for auto)")
	cmd.Flags().StringVar(&theme, "theme", "default", "Mermaid theme: default, dark, forest, neutral")
	cmd.Flags().StringVar(&background, "background", "", "Image background colour, or transparent")

	return cmd
}
