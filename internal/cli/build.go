package cli

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"os"
	"os/user"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/davidthor/tok/internal/ctxlog"
	"github.com/davidthor/tok/pkg/errors"
	"github.com/davidthor/tok/pkg/graph/visual"
	"github.com/davidthor/tok/pkg/render"
	"github.com/davidthor/tok/pkg/store"
	"github.com/davidthor/tok/pkg/topic"
)

type buildOptions struct {
	pipeline   pipelineFlags
	title      string
	author     string
	date       string
	output     string
	publish    bool
	publishDir string
	noAppendix bool
	render     render.Options
}

func newBuildCmd() *cobra.Command {
	opts := &buildOptions{}

	cmd := &cobra.Command{
		Use:   "build [FILES...]",
		Short: "Order topics and write the Markdown document",
		Long: `Order the requested topics and every topic they depend on, and write the
result to main.md in the output directory. Source references collected from
the topics are written to main.bib.

With --publish the document, its diagram and a manifest are also written
into the store, under a lock so concurrent builds do not interleave.`,
		Example: `  # Build the document for a single topic
  tok build thm_lagrange.yaml

  # Build everything in a bucket and publish the result next to the records
  tok build --all --store s3 --store-config bucket=notes --publish

  # Chapters and sections, with examples and proofs left out
  tok build --headings --examples=false --no-proofs thm_lagrange.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd, opts, args)
		},
	}

	opts.pipeline.register(cmd)
	cmd.Flags().StringVar(&opts.title, "title", "", "Document title")
	cmd.Flags().StringVar(&opts.author, "author", "", "Document author")
	cmd.Flags().StringVar(&opts.date, "date", "", "Document date")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Output directory (default \"output/\")")
	cmd.Flags().BoolVar(&opts.publish, "publish", false, "Also write the document into the store")
	cmd.Flags().StringVar(&opts.publishDir, "publish-dir", "output", "Store directory to publish into")

	cmd.Flags().BoolVar(&opts.render.Paths, "paths", false, "Print the record path of every topic")
	cmd.Flags().BoolVar(&opts.render.Wiki, "wiki", false, "Link every topic to Wikipedia")
	cmd.Flags().BoolVar(&opts.render.URLs, "urls", false, "List the links of every topic")
	cmd.Flags().BoolVar(&opts.render.Questions, "questions", false, "List open questions")
	cmd.Flags().BoolVar(&opts.render.NoProofs, "no-proofs", false, "Leave proofs out")
	cmd.Flags().BoolVar(&opts.render.Crib, "crib", false, "Keep only the statements")
	cmd.Flags().BoolVar(&opts.render.Examples, "examples", true, "Include example topics")
	cmd.Flags().BoolVar(&opts.render.ELI5, "eli5", false, "Include simplified explanations")
	cmd.Flags().BoolVar(&opts.noAppendix, "no-appendix", false, "Do not move trailing topics into an appendix")

	return cmd
}

func runBuild(cmd *cobra.Command, opts *buildOptions, args []string) error {
	ctx := cmd.Context()
	logger := ctxlog.FromContext(ctx)

	p, err := runPipeline(cmd, &opts.pipeline, args)
	if err != nil {
		return err
	}
	result := p.result

	renderOpts := opts.render
	renderOpts.Title = valueOrConfig(opts.title, ConfigKeyTitle)
	renderOpts.Author = valueOrConfig(opts.author, ConfigKeyAuthor)
	renderOpts.Date = valueOrConfig(opts.date, ConfigKeyDate)
	renderOpts.Appendix = !opts.noAppendix

	var doc, bib bytes.Buffer
	if err := render.Markdown(&doc, result, renderOpts); err != nil {
		return fmt.Errorf("failed to render document: %w", err)
	}
	if err := render.Bibliography(&bib, result); err != nil {
		return fmt.Errorf("failed to render bibliography: %w", err)
	}

	files := map[string][]byte{"main.md": doc.Bytes()}
	if bib.Len() > 0 {
		files["main.bib"] = bib.Bytes()
	}

	outputDir := opts.output
	if outputDir == "" {
		outputDir = viper.GetString(ConfigKeyOutput)
	}
	if outputDir == "" {
		outputDir = "output/"
	}

	out, err := store.Create(store.Config{Type: "local", Config: map[string]string{"path": outputDir}})
	if err != nil {
		return fmt.Errorf("failed to open output directory: %w", err)
	}
	for name, content := range files {
		if err := out.Write(ctx, name, bytes.NewReader(content)); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	logger.Debug("wrote document", "dir", outputDir, "topics", len(result.Document))
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d topics to %s\n", len(result.Document), outputDir)

	if !opts.publish {
		return nil
	}

	diagram, err := visual.RenderMermaid(result.Graph, visual.MermaidOptions[topic.Topic]{
		Title: renderOpts.Title,
		Label: topic.Label,
	})
	if err != nil {
		return fmt.Errorf("failed to render diagram: %w", err)
	}
	files["graph.mmd"] = []byte(diagram)

	topics := make([]string, len(result.Document))
	for i, n := range result.Document {
		topics[i] = n.ID
	}

	publisher := store.NewPublisher(p.store, opts.publishDir)
	err = publisher.Publish(ctx, files, store.Manifest{
		BuildID: result.BuildID,
		Title:   renderOpts.Title,
		Roots:   result.Roots,
		Topics:  topics,
		Who:     currentUser(),
	})
	if err != nil {
		var lockErr *store.LockError
		if stderrors.As(err, &lockErr) {
			info := lockErr.Info
			return errors.OutputLocked(info.Path, info.Who, info.Operation, info.Created)
		}
		if stderrors.Is(err, store.ErrReadOnly) {
			return errors.ValidationError("%s store cannot be published to", p.store.Type())
		}
		return errors.StoreError(p.store.Type(), "publish", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Published build %s to %s store under %s/\n", result.BuildID, p.store.Type(), opts.publishDir)
	return nil
}

func valueOrConfig(value, key string) string {
	if value != "" {
		return value
	}
	return viper.GetString(key)
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "unknown"
}
