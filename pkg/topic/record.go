package topic

import (
	"fmt"
	"path"
	"strings"

	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
	"gopkg.in/yaml.v3"

	"github.com/davidthor/tok/pkg/errors"
)

// Record is a topic file as written by an author. Unknown keys are ignored.
type Record struct {
	// Ordering constraints; req and incl are the older spellings
	After  []string `yaml:"after"`
	Req    []string `yaml:"req"`
	Before []string `yaml:"before"`
	Incl   []string `yaml:"incl"`

	Label     string            `yaml:"label"`
	Aka       []string          `yaml:"aka"`
	Lang      string            `yaml:"lang"`
	ELI5      string            `yaml:"eli5"`
	Pre       string            `yaml:"pre"`
	Main      string            `yaml:"main"`
	Post      string            `yaml:"post"`
	ListText  string            `yaml:"lsttext"`
	Lines     []int             `yaml:"lines"`
	Proofs    []string          `yaml:"pfs"`
	Alt       []string          `yaml:"alt"`
	Wiki      string            `yaml:"wiki"`
	NoWiki    bool              `yaml:"nowiki"`
	URLs      map[string]string `yaml:"urls"`
	Questions []string          `yaml:"q"`
	Gen       []string          `yaml:"gen"`
	Case      []string          `yaml:"case"`
	Src       []string          `yaml:"src"`

	Deadline *Date `yaml:"deadline"`
	Start    *Date `yaml:"start"`
	Complete *Date `yaml:"complete"`

	// Split start/end dates used by older task files
	YearStart  int `yaml:"ys"`
	MonthStart int `yaml:"ms"`
	DayStart   int `yaml:"ds"`
	YearEnd    int `yaml:"ye"`
	MonthEnd   int `yaml:"me"`
	DayEnd     int `yaml:"de"`
}

// AfterIDs returns the merged predecessor declarations.
func (r Record) AfterIDs() []string {
	return append(append([]string{}, r.After...), r.Req...)
}

// BeforeIDs returns the merged successor declarations.
func (r Record) BeforeIDs() []string {
	return append(append([]string{}, r.Before...), r.Incl...)
}

// StartDate returns the start date from either spelling.
func (r Record) StartDate() *Date {
	if r.Start != nil {
		return r.Start
	}
	if r.YearStart > 0 {
		return &Date{Year: r.YearStart, Month: r.MonthStart, Day: r.DayStart}
	}
	return nil
}

// CompleteDate returns the completion date from either spelling.
func (r Record) CompleteDate() *Date {
	if r.Complete != nil {
		return r.Complete
	}
	if r.YearEnd > 0 {
		return &Date{Year: r.YearEnd, Month: r.MonthEnd, Day: r.DayEnd}
	}
	return nil
}

// Extensions lists the file extensions Parse understands.
var Extensions = []string{".yaml", ".yml", ".json", ".hcl"}

// IsRecordPath reports whether p has a record extension.
func IsRecordPath(p string) bool {
	ext := strings.ToLower(path.Ext(p))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Parse decodes a record, choosing the format from the id's extension. Ids
// without a known extension are read as YAML.
func Parse(id string, data []byte) (Record, error) {
	if strings.ToLower(path.Ext(id)) == ".hcl" {
		return parseHCL(id, data)
	}
	return parseYAML(id, data)
}

func parseYAML(id string, data []byte) (Record, error) {
	var r Record
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Record{}, errors.ParseError(id, err)
	}
	return r, nil
}

// parseHCL reads a flat HCL body of attributes. The values are converted to
// JSON and decoded through the YAML path so both formats share one set of
// field rules.
func parseHCL(id string, data []byte) (Record, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, id)
	if diags.HasErrors() {
		return Record{}, errors.ParseError(id, diags)
	}

	attrs, diags := file.Body.JustAttributes()
	if diags.HasErrors() {
		return Record{}, errors.ParseError(id, diags)
	}

	values := make(map[string]cty.Value, len(attrs))
	for name, attr := range attrs {
		val, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return Record{}, errors.ParseError(id, diags)
		}
		values[name] = val
	}

	obj := cty.EmptyObjectVal
	if len(values) > 0 {
		obj = cty.ObjectVal(values)
	}
	raw, err := ctyjson.Marshal(obj, obj.Type())
	if err != nil {
		return Record{}, errors.ParseError(id, fmt.Errorf("failed to convert attributes: %w", err))
	}

	return parseYAML(id, raw)
}
