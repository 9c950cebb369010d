// Package topic turns topic records into graph nodes.
package topic

import (
	"path"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/davidthor/tok/pkg/graph"
)

// Environments whose start and completion dates produce a duration.
var taskEnvs = map[string]bool{"task": true, "done": true}

// Topic is the payload carried by every graph node.
type Topic struct {
	Label     string
	Env       string
	Aka       []string
	Lang      string
	ELI5      string
	Pre       string
	Main      string
	Post      string
	ListText  string
	Lines     []int
	Proofs    []string
	Alt       []string
	Wiki      string
	NoWiki    bool
	URLs      map[string]string
	Questions []string
	Gen       []string
	Case      []string
	Src       []string

	Deadline *Date
	Start    *Date
	Complete *Date

	// Duration is the number of days from start to completion, inclusive,
	// for task and done topics.
	Duration int
}

// Node is the graph node type used throughout tok.
type Node = graph.Node[Topic]

// NewNode builds the node for a record.
func NewNode(id string, r Record) (*Node, error) {
	env, label := SplitFilename(id)
	if r.Label != "" {
		label = r.Label
	}

	t := Topic{
		Label:     label,
		Env:       env,
		Aka:       r.Aka,
		Lang:      r.Lang,
		ELI5:      r.ELI5,
		Pre:       r.Pre,
		Main:      r.Main,
		Post:      r.Post,
		ListText:  r.ListText,
		Lines:     r.Lines,
		Proofs:    r.Proofs,
		Alt:       r.Alt,
		Wiki:      r.Wiki,
		NoWiki:    r.NoWiki,
		URLs:      r.URLs,
		Questions: r.Questions,
		Gen:       r.Gen,
		Case:      r.Case,
		Src:       r.Src,
		Deadline:  r.Deadline,
		Start:     r.StartDate(),
		Complete:  r.CompleteDate(),
	}

	if taskEnvs[env] && t.Start != nil && t.Complete != nil {
		if days := DaysBetween(*t.Start, *t.Complete); days > 0 {
			t.Duration = days
		}
	}

	n := graph.NewNode(id, t)
	n.After = graph.DedupIDs(r.AfterIDs())
	n.Before = graph.DedupIDs(r.BeforeIDs())
	n.IntrinsicCost = Cost(t)
	if r.Deadline != nil {
		d := r.Deadline.Deadline()
		n.Deadline = &d
	}
	return n, nil
}

// Cost is the intrinsic cost of a topic: one plus the length of its text.
func Cost(t Topic) int {
	return 1 + len(t.Main) + len(t.Pre) + len(t.Post)
}

// SplitFilename derives the environment and default label from a topic id.
// The environment is the part of the file name before the first underscore;
// the label is the rest without its extension, with underscores read as
// spaces, in title case.
func SplitFilename(id string) (env, label string) {
	base := path.Base(strings.ReplaceAll(id, `\`, "/"))
	rest := base
	if i := strings.Index(base, "_"); i > 0 {
		env = base[:i]
		rest = base[i+1:]
	}
	rest = strings.TrimSuffix(rest, path.Ext(rest))
	label = cases.Title(language.English).String(strings.TrimSpace(strings.ReplaceAll(rest, "_", " ")))
	return env, label
}

// Label returns the display label of a node; the root has none.
func Label(n *Node) string {
	if n.ID == graph.RootID {
		return ""
	}
	return n.Payload.Label
}
