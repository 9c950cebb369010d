package topic

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/davidthor/tok/pkg/graph"
)

// dateLayout is the string form accepted for dates.
const dateLayout = "2006-01-02"

// Date is a calendar date written either as [year, month, day] or as
// "YYYY-MM-DD".
type Date struct {
	Year  int
	Month int
	Day   int
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Date) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		var parts []int
		if err := value.Decode(&parts); err != nil {
			return fmt.Errorf("line %d: invalid date: %w", value.Line, err)
		}
		if len(parts) != 3 {
			return fmt.Errorf("line %d: date needs [year, month, day], got %d values", value.Line, len(parts))
		}
		*d = Date{Year: parts[0], Month: parts[1], Day: parts[2]}
	case yaml.ScalarNode:
		t, err := time.Parse(dateLayout, value.Value)
		if err != nil {
			return fmt.Errorf("line %d: invalid date %q: %w", value.Line, value.Value, err)
		}
		*d = FromTime(t)
	default:
		return fmt.Errorf("line %d: invalid date", value.Line)
	}
	return d.validate()
}

func (d Date) validate() error {
	if d.Month < 1 || d.Month > 12 {
		return fmt.Errorf("invalid month %d in %s", d.Month, d)
	}
	if d.Day < 1 || d.Day > daysIn(d.Year, d.Month) {
		return fmt.Errorf("invalid day %d in %s", d.Day, d)
	}
	return nil
}

// FromTime returns the calendar date of t.
func FromTime(t time.Time) Date {
	return Date{Year: t.Year(), Month: int(t.Month()), Day: t.Day()}
}

// Time returns midnight UTC on d.
func (d Date) Time() time.Time {
	return time.Date(d.Year, time.Month(d.Month), d.Day, 0, 0, 0, 0, time.UTC)
}

// Deadline converts d for the graph.
func (d Date) Deadline() graph.Deadline {
	return graph.Deadline{Year: d.Year, Month: d.Month, Day: d.Day}
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// DaysBetween counts the days from start to end inclusive of both.
func DaysBetween(start, end Date) int {
	return int(end.Time().Sub(start.Time()).Hours()/24) + 1
}

func daysIn(year, month int) int {
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
