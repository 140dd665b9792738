// Package temporal turns free-form date and time fragments into absolute
// instants in the acting user's timezone.
package temporal

import (
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/jcolson/dndvault-bot-sub000/internal/domain"
)

// carryDateLayout and carryTimeLayout render an existing instant back into
// fragments the resolver accepts, for edits that change only one of them.
const (
	carryDateLayout = "01/02/2006"
	carryTimeLayout = "15:04"
)

var clockLayouts = []string{
	"15:04",
	"15:04:05",
	"3:04PM",
	"3:04 PM",
	"3PM",
	"3 PM",
}

// Resolver parses natural-language date/time fragments.
type Resolver struct {
	parser *when.Parser
}

func NewResolver() *Resolver {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return &Resolver{parser: w}
}

// LoadZone resolves an IANA zone name.
func LoadZone(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return nil, domain.ErrTimezoneRequired
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownTimezone, tz)
	}
	return loc, nil
}

// Resolve combines a date and a time fragment in zone tz. The result must be
// strictly after ref.
func (r *Resolver) Resolve(date, tod string, ref time.Time, tz string) (time.Time, error) {
	loc, err := LoadZone(tz)
	if err != nil {
		return time.Time{}, err
	}
	base := ref.In(loc)

	y, m, d, err := r.parseDate(date, base)
	if err != nil {
		return time.Time{}, err
	}
	day := time.Date(y, m, d, 0, 0, 0, 0, loc)
	hour, minute, err := r.parseClock(tod, day)
	if err != nil {
		return time.Time{}, err
	}

	at := time.Date(y, m, d, hour, minute, 0, 0, loc).UTC()
	if !at.After(ref) {
		return time.Time{}, domain.ErrEventInPast
	}
	return at, nil
}

// ResolveEdit re-resolves an existing start when at least one fragment is
// supplied; the missing one is carried over from current as seen in tz.
// changed is false when neither fragment was supplied.
func (r *Resolver) ResolveEdit(date, tod string, current, ref time.Time, tz string) (at time.Time, changed bool, err error) {
	date = strings.TrimSpace(date)
	tod = strings.TrimSpace(tod)
	if date == "" && tod == "" {
		return current, false, nil
	}
	loc, err := LoadZone(tz)
	if err != nil {
		return time.Time{}, false, err
	}
	local := current.In(loc)
	if date == "" {
		date = local.Format(carryDateLayout)
	}
	if tod == "" {
		tod = local.Format(carryTimeLayout)
	}
	at, err = r.Resolve(date, tod, ref, tz)
	if err != nil {
		return time.Time{}, false, err
	}
	return at, true, nil
}

func (r *Resolver) parseDate(frag string, base time.Time) (int, time.Month, int, error) {
	frag = strings.TrimSpace(frag)
	if frag == "" {
		return 0, 0, 0, domain.ErrDateRequired
	}
	if t, err := dateparse.ParseIn(frag, base.Location()); err == nil {
		if t.Year() == 0 {
			y, m, d := withoutYear(t.Month(), t.Day(), base)
			return y, m, d, nil
		}
		t = t.In(base.Location())
		return t.Year(), t.Month(), t.Day(), nil
	}
	res, err := r.parser.Parse(strings.ToLower(frag), base)
	if err != nil || res == nil {
		return 0, 0, 0, fmt.Errorf("%w: %q", domain.ErrUnparseableDate, frag)
	}
	t := res.Time.In(base.Location())
	return t.Year(), t.Month(), t.Day(), nil
}

// withoutYear places a month/day written without a year in base's year,
// or the next one when that day has already passed in base's zone.
func withoutYear(m time.Month, d int, base time.Time) (int, time.Month, int) {
	y := base.Year()
	today := time.Date(y, base.Month(), base.Day(), 0, 0, 0, 0, base.Location())
	if time.Date(y, m, d, 0, 0, 0, 0, base.Location()).Before(today) {
		y++
	}
	return y, m, d
}

func (r *Resolver) parseClock(frag string, day time.Time) (int, int, error) {
	frag = NormalizeClock(frag)
	if frag == "" {
		return 0, 0, domain.ErrTimeRequired
	}
	upper := strings.ToUpper(frag)
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, upper); err == nil {
			return t.Hour(), t.Minute(), nil
		}
	}
	res, err := r.parser.Parse(strings.ToLower(frag), day)
	if err != nil || res == nil {
		return 0, 0, fmt.Errorf("%w: %q", domain.ErrUnparseableTime, frag)
	}
	t := res.Time.In(day.Location())
	return t.Hour(), t.Minute(), nil
}

// NormalizeClock rewrites a bare run of digits as HH:MM ("2130" -> "21:30",
// "930" -> "9:30", "9" -> "9:00"); the date parsers read such runs as years.
func NormalizeClock(frag string) string {
	frag = strings.TrimSpace(frag)
	if frag == "" || len(frag) > 4 {
		return frag
	}
	for _, c := range frag {
		if c < '0' || c > '9' {
			return frag
		}
	}
	if len(frag) <= 2 {
		return frag + ":00"
	}
	return frag[:len(frag)-2] + ":" + frag[len(frag)-2:]
}
