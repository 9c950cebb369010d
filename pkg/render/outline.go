package render

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// OutlineEntry is one row of the outline.
type OutlineEntry struct {
	Cost         int    `json:"cost" yaml:"cost"`
	HeadingDepth int    `json:"heading_depth" yaml:"heading_depth"`
	File         string `json:"file" yaml:"file"`
	Label        string `json:"label" yaml:"label"`
}

// OutlineEntries lists the document in reading order.
func OutlineEntries(result *Result) []OutlineEntry {
	entries := make([]OutlineEntry, 0, len(result.Document))
	for _, n := range result.Document {
		entries = append(entries, OutlineEntry{
			Cost:         n.AggregateCost(),
			HeadingDepth: n.HeadingDepth,
			File:         n.ID,
			Label:        n.Payload.Label,
		})
	}
	return entries
}

// Outline writes the document order as a table, or as json or yaml.
func Outline(w io.Writer, result *Result, format string) error {
	entries := OutlineEntries(result)

	switch format {
	case "json":
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case "yaml":
		data, err := yaml.Marshal(entries)
		if err != nil {
			return fmt.Errorf("failed to marshal YAML: %w", err)
		}
		_, err = w.Write(data)
		return err
	case "", "table":
	default:
		return fmt.Errorf("unknown output format %q (use table, json or yaml)", format)
	}

	fileWidth := len("FILE")
	for _, e := range entries {
		if len(e.File) > fileWidth {
			fileWidth = len(e.File)
		}
	}

	var b strings.Builder
	row := fmt.Sprintf("%%-8s %%-13s %%-%ds %%s\n", fileWidth)
	fmt.Fprintf(&b, row, "COST", "HEADING DEPTH", "FILE", "LABEL")
	for _, e := range entries {
		fmt.Fprintf(&b, row, fmt.Sprint(e.Cost), fmt.Sprint(e.HeadingDepth), e.File, e.Label)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// Bibliography writes the sources cited by the document, sorted and
// deduplicated, one per line.
func Bibliography(w io.Writer, result *Result) error {
	seen := map[string]bool{}
	var refs []string
	for _, n := range result.Document {
		for _, src := range n.Payload.Src {
			if src = strings.TrimSpace(src); src != "" && !seen[src] {
				seen[src] = true
				refs = append(refs, src)
			}
		}
	}
	sort.Strings(refs)

	var b strings.Builder
	for _, ref := range refs {
		b.WriteString(ref + "\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}
