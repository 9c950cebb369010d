package visual

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/davidthor/tok/pkg/graph"
)

// Image formats mermaid-cli can produce.
const (
	FormatPNG = "png"
	FormatSVG = "svg"
	FormatPDF = "pdf"
)

// ImageOptions holds the image rendering settings.
type ImageOptions struct {
	// Format is png, svg or pdf. Defaults to png.
	Format string

	// Width and Height are in pixels; 0 lets mmdc decide.
	Width  int
	Height int

	// Theme is the Mermaid theme (default, dark, forest, neutral).
	Theme string

	// Background is a CSS colour or "transparent".
	Background string

	// Binary is the mmdc executable. Defaults to mmdc on $PATH.
	Binary string
}

// FormatFromPath picks the image format from a file extension, falling back
// to png.
func FormatFromPath(p string) string {
	switch ext := strings.ToLower(strings.TrimPrefix(path.Ext(p), ".")); ext {
	case FormatSVG, FormatPDF:
		return ext
	default:
		return FormatPNG
	}
}

// RenderImage renders the topic graph through mermaid-cli (mmdc), which must
// be installed separately:
//
//	npm install -g @mermaid-js/mermaid-cli
func RenderImage[P any](ctx context.Context, g *graph.Graph[P], mopts MermaidOptions[P], opts ImageOptions) ([]byte, error) {
	diagram, err := RenderMermaid(g, mopts)
	if err != nil {
		return nil, fmt.Errorf("failed to generate mermaid diagram: %w", err)
	}
	return RenderMermaidToImage(ctx, diagram, opts)
}

// RenderMermaidToImage converts Mermaid text into an image.
func RenderMermaidToImage(ctx context.Context, diagram string, opts ImageOptions) ([]byte, error) {
	binary, err := lookupMmdc(opts.Binary)
	if err != nil {
		return nil, err
	}

	workDir, err := os.MkdirTemp("", "tok-diagram-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	format := opts.Format
	if format == "" {
		format = FormatPNG
	}
	in := filepath.Join(workDir, "graph.mmd")
	out := filepath.Join(workDir, "graph."+format)
	if err := os.WriteFile(in, []byte(diagram), 0644); err != nil {
		return nil, fmt.Errorf("failed to write diagram: %w", err)
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, mmdcArgs(in, out, format, opts)...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("mmdc failed: %w: %s", err, msg)
		}
		return nil, fmt.Errorf("mmdc failed: %w", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("failed to read rendered image: %w", err)
	}
	return data, nil
}

func lookupMmdc(binary string) (string, error) {
	if binary == "" {
		binary = "mmdc"
	}
	p, err := exec.LookPath(binary)
	if err != nil {
		return "", fmt.Errorf("mermaid-cli (%s) not found: install it with `npm install -g @mermaid-js/mermaid-cli`, "+
			"or run tok graph without an image file to print the Mermaid text", binary)
	}
	return p, nil
}

func mmdcArgs(in, out, format string, opts ImageOptions) []string {
	args := []string{"--input", in, "--output", out, "--outputFormat", format}
	if opts.Theme != "" {
		args = append(args, "--theme", opts.Theme)
	}
	if opts.Background != "" {
		args = append(args, "--backgroundColor", opts.Background)
	}
	if opts.Width > 0 {
		args = append(args, "--width", strconv.Itoa(opts.Width))
	}
	if opts.Height > 0 {
		args = append(args, "--height", strconv.Itoa(opts.Height))
	}
	return args
}
