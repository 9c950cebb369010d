package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/davidthor/tok/pkg/engine"
	"github.com/davidthor/tok/pkg/errors"
	"github.com/davidthor/tok/pkg/graph"
	"github.com/davidthor/tok/pkg/store"
	"github.com/davidthor/tok/pkg/topic"
)

// pipelineFlags are shared by every command that orders topics.
type pipelineFlags struct {
	reverse       bool
	depth         int
	depthPolicy   string
	headings      bool
	extraHeadings bool
	all           bool
}

func (f *pipelineFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.reverse, "reverse", false, "Put cheaper branches first")
	cmd.Flags().IntVar(&f.depth, "depth", -1, "Successor expansion depth (negative for unlimited, 0 to disable)")
	cmd.Flags().StringVar(&f.depthPolicy, "depth-policy", "", "Which descents consume depth: forward or both (default forward)")
	cmd.Flags().BoolVar(&f.headings, "headings", false, "Derive chapter and section headings")
	cmd.Flags().BoolVar(&f.extraHeadings, "extra-headings", false, "Derive headings for smaller branches too")
	cmd.Flags().BoolVar(&f.all, "all", false, "Use every record in the store as a requested topic")
}

// resolve fills unset flags from the config file.
func (f *pipelineFlags) resolve(cmd *cobra.Command) {
	if !cmd.Flags().Changed("reverse") && viper.IsSet(ConfigKeyReverse) {
		f.reverse = viper.GetBool(ConfigKeyReverse)
	}
	if !cmd.Flags().Changed("depth") && viper.IsSet(ConfigKeyDepth) {
		f.depth = viper.GetInt(ConfigKeyDepth)
	}
	if f.depthPolicy == "" {
		f.depthPolicy = viper.GetString(ConfigKeyDepthPolicy)
	}
	if !cmd.Flags().Changed("headings") && viper.IsSet(ConfigKeyHeadings) {
		f.headings = viper.GetBool(ConfigKeyHeadings)
	}
	if !cmd.Flags().Changed("extra-headings") && viper.IsSet(ConfigKeyExtraHeadings) {
		f.extraHeadings = viper.GetBool(ConfigKeyExtraHeadings)
	}
}

// pipeline is an opened store plus the engine result computed over it.
type pipeline struct {
	store  store.Store
	result *engine.Result[topic.Topic]
}

// runPipeline opens the store and orders the requested topics.
func runPipeline(cmd *cobra.Command, flags *pipelineFlags, args []string) (*pipeline, error) {
	ctx := cmd.Context()
	flags.resolve(cmd)

	policy, err := graph.ParseDepthPolicy(flags.depthPolicy)
	if err != nil {
		return nil, errors.ValidationError("%v", err)
	}

	s, err := openStore(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	reader := topic.NewReader(s)
	roots, err := requestedTopics(ctx, reader, flags.all, args)
	if err != nil {
		return nil, err
	}

	progress := newProgressPrinter(cmd.ErrOrStderr())
	eng := engine.New(reader.Loader(), engine.Options[topic.Topic]{
		Depth:         flags.depth,
		DepthPolicy:   policy,
		Reverse:       flags.reverse,
		Headings:      flags.headings,
		ExtraHeadings: flags.extraHeadings,
		Label:         topic.Label,
		OnProgress:    progress.Handle,
	})

	result, err := eng.Run(ctx, roots)
	if err != nil {
		return nil, err
	}
	progress.Summary(len(result.Document), result.Duration)

	return &pipeline{store: s, result: result}, nil
}

func requestedTopics(ctx context.Context, reader *topic.Reader, all bool, args []string) ([]string, error) {
	if !all {
		if len(args) == 0 {
			return nil, errors.ValidationError("no topics given; name record files or pass --all")
		}
		return args, nil
	}

	ids, err := reader.ListRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	if len(ids) == 0 {
		return nil, errors.NotFoundError("records", "store")
	}
	return append(ids, args...), nil
}

// writeTo runs render into an in-memory buffer so partial output never
// reaches w when rendering fails.
func writeTo(w io.Writer, render func(io.Writer) error) error {
	var buf bytes.Buffer
	if err := render(&buf); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}
