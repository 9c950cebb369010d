// Package render writes an ordered topic document as Markdown, as an outline
// table and as a bibliography.
package render

import (
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/davidthor/tok/pkg/engine"
	"github.com/davidthor/tok/pkg/headings"
	"github.com/davidthor/tok/pkg/topic"
)

// Result is an engine result over topics.
type Result = engine.Result[topic.Topic]

// Options controls what the Markdown document includes.
type Options struct {
	Title  string
	Author string
	Date   string

	// Paths prints the record id of every topic.
	Paths bool

	// Wiki links every topic to Wikipedia unless it opts out.
	Wiki bool

	// URLs lists the links of every topic.
	URLs bool

	// Questions lists the open questions of every topic.
	Questions bool

	// NoProofs leaves proofs out.
	NoProofs bool

	// Crib keeps only the statements: introductions, commentary, abstracts,
	// listings and links are left out.
	Crib bool

	// Examples includes example topics.
	Examples bool

	// ELI5 includes the simplified explanation of every topic.
	ELI5 bool

	// Appendix moves the topics that follow the last requested topic under
	// an appendix heading.
	Appendix bool
}

// environment display names; topics with other environments render as plain
// text.
var environments = map[string]string{
	"def":  "Definition",
	"eg":   "Example",
	"lem":  "Lemma",
	"thm":  "Theorem",
	"cor":  "Corollary",
	"rule": "Rule",
	"fact": "Fact",
	"rem":  "Remark",
}

// environments followed by their proofs
var provable = map[string]bool{"lem": true, "thm": true, "cor": true, "rule": true, "fact": true}

const wikiSearchURL = "https://en.wikipedia.org/w/index.php?search="

type frontMatter struct {
	Title  string `yaml:"title,omitempty"`
	Author string `yaml:"author,omitempty"`
	Date   string `yaml:"date,omitempty"`
}

// Markdown writes the document of result to w.
func Markdown(w io.Writer, result *Result, opts Options) error {
	var b strings.Builder

	if opts.Title != "" || opts.Author != "" || opts.Date != "" {
		fm, err := yaml.Marshal(frontMatter{Title: opts.Title, Author: opts.Author, Date: opts.Date})
		if err != nil {
			return fmt.Errorf("failed to encode front matter: %w", err)
		}
		b.WriteString("---\n")
		b.Write(fm)
		b.WriteString("---\n\n")
	}

	pending := make(map[string]bool, len(result.Roots))
	for _, id := range result.Roots {
		pending[id] = true
	}
	appendix := false

	for _, n := range result.Document {
		if pending[n.ID] {
			delete(pending, n.ID)
		} else if opts.Appendix && !appendix && len(pending) == 0 && len(result.Roots) > 0 {
			appendix = true
			b.WriteString("# Appendix\n\n")
		}

		writeHeadings(&b, result.Sections[n.ID], result.MaxHeadingDepth)
		writeTopic(&b, n, opts)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func writeHeadings(b *strings.Builder, s *headings.Section, maxDepth int) {
	if s == nil {
		return
	}
	level := s.Start
	for _, title := range s.Titles {
		if level <= maxDepth && title != "" {
			fmt.Fprintf(b, "%s %s\n\n", strings.Repeat("#", level), title)
		}
		level++
	}
}

func writeTopic(b *strings.Builder, n *topic.Node, opts Options) {
	t := n.Payload

	if t.Env == "eg" && !opts.Examples {
		return
	}

	if opts.Paths {
		fmt.Fprintf(b, "`%s`\n\n", n.ID)
	}

	switch t.Env {
	case "plain":
		if t.Label != "" {
			fmt.Fprintf(b, "**%s**\n\n", t.Label)
		}
	case "task", "done":
		status := "TO DO"
		if t.Env == "done" || t.Complete != nil {
			status = "DONE"
		}
		fmt.Fprintf(b, "**%s** (%s)\n\n", t.Label, status)
		writeDates(b, t)
	}

	if opts.ELI5 && t.ELI5 != "" {
		fmt.Fprintf(b, "> %s\n\n", strings.ReplaceAll(strings.TrimSpace(t.ELI5), "\n", "\n> "))
	}

	if !opts.Crib {
		paragraph(b, t.Pre)
	}

	writeMain(b, n, opts)

	if len(t.Aka) > 0 {
		b.WriteString("**Also known as:**\n\n")
		for _, name := range t.Aka {
			fmt.Fprintf(b, "- %s\n", name)
		}
		b.WriteString("\n")
	}

	if !opts.Crib && opts.Wiki && t.Env != "x" && !t.NoWiki {
		if t.Wiki != "" {
			fmt.Fprintf(b, "[%q on Wikipedia](%s)\n\n", t.Label, t.Wiki)
		} else {
			fmt.Fprintf(b, "[Search for %q on Wikipedia](%s%s)\n\n", t.Label, wikiSearchURL, url.QueryEscape(t.Label))
		}
	}

	if !opts.Crib {
		paragraph(b, t.Post)
	}

	if opts.URLs && len(t.URLs) > 0 {
		names := make([]string, 0, len(t.URLs))
		for name := range t.URLs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(b, "[%s](%s)\n\n", name, t.URLs[name])
		}
	}

	if !opts.Crib && opts.Questions && len(t.Questions) > 0 {
		for _, q := range t.Questions {
			fmt.Fprintf(b, "- [ ] %s\n", q)
		}
		b.WriteString("\n")
	}
}

func writeMain(b *strings.Builder, n *topic.Node, opts Options) {
	t := n.Payload

	switch t.Env {
	case "mot", "alg":
	case "abs":
		if !opts.Crib {
			fmt.Fprintf(b, "**Abstract.** %s\n\n", strings.TrimSpace(t.Main))
		}
	case "lst":
		if !opts.Crib {
			paragraph(b, t.Main)
			fmt.Fprintf(b, "```%s\n%s\n```\n\n", t.Lang, strings.TrimRight(t.ListText, "\n"))
		}
	case "lstfile":
		if !opts.Crib {
			lines := ""
			if len(t.Lines) == 2 {
				lines = fmt.Sprintf(", lines %d to %d", t.Lines[0], t.Lines[1])
			}
			fmt.Fprintf(b, "Listing: `%s`%s\n\n", strings.TrimSpace(t.ListText), lines)
			paragraph(b, t.Main)
		}
	default:
		name, ok := environments[t.Env]
		if !ok {
			paragraph(b, t.Main)
			return
		}
		if t.Env == "rem" {
			fmt.Fprintf(b, "**%s.** %s\n\n", name, strings.TrimSpace(t.Main))
		} else {
			fmt.Fprintf(b, "**%s (%s).** %s\n\n", name, t.Label, strings.TrimSpace(t.Main))
		}
		if provable[t.Env] && !opts.NoProofs {
			for _, proof := range t.Proofs {
				fmt.Fprintf(b, "*Proof.* %s ∎\n\n", strings.TrimSpace(proof))
			}
		}
	}
}

func writeDates(b *strings.Builder, t topic.Topic) {
	if t.Deadline != nil {
		fmt.Fprintf(b, "**Deadline:** %s\n\n", t.Deadline)
	}

	var parts []string
	if t.Start != nil {
		parts = append(parts, "**Begin:** "+t.Start.String())
	}
	if t.Complete != nil {
		parts = append(parts, "**End:** "+t.Complete.String())
	}
	if t.Duration > 0 {
		parts = append(parts, fmt.Sprintf("**Actual Duration:** %d days", t.Duration))
	}
	if len(parts) > 0 {
		b.WriteString(strings.Join(parts, ", ") + "\n\n")
	}
}

func paragraph(b *strings.Builder, text string) {
	if text = strings.TrimSpace(text); text != "" {
		b.WriteString(text + "\n\n")
	}
}
