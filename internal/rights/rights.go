// Package rights decides whether a volume may be published openly, from the
// fixed-length data of its bibliographic record and the operator's
// enumeration note.
package rights

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// PublicDomainMarker is the 583 $x value that marks institutional intent to
// release the volume as public domain.
const PublicDomainMarker = "public domain"

// CopyrightCutoff is the last publication year treated as out of copyright.
const CopyrightCutoff = 1922

// Verdict classifies a rights determination.
type Verdict int

const (
	Eligible Verdict = iota
	Ineligible
	Undetermined
)

func (v Verdict) String() string {
	switch v {
	case Eligible:
		return "eligible"
	case Ineligible:
		return "ineligible"
	default:
		return "undetermined"
	}
}

// Result is the outcome of Evaluate. Reason is empty when eligible.
type Result struct {
	Year    int
	Known   bool
	Verdict Verdict
	Reason  string
}

// Input carries everything Evaluate looks at.
type Input struct {
	// Fixed is control field 008.
	Fixed string
	// Note is the enumeration/chronology string.
	Note string
	// Marker is 583 $x.
	Marker string
	// Reviewed is true when 583 (first indicator 1) carries $5.
	Reviewed bool
	// Label names the volume in undetermined-date messages.
	Label string
}

var (
	nonDigit    = regexp.MustCompile(`[^\d\s]`)
	yearPattern = regexp.MustCompile(`1\d\d\d`)
)

// PublicationDate resolves the publication year from the 008 date-type code
// at offset 6 and the dates at 7-10 and 11-14. Codes d, u, c, i and k fall
// back to the largest 1xxx token in note. ok is false when no year can be
// determined.
func PublicationDate(fixed, note string) (year int, ok bool) {
	if len(fixed) < 7 {
		return 0, false
	}
	date1, ok1 := parseDate(window(fixed, 7, 11))
	date2, ok2 := parseDate(window(fixed, 11, 15))

	switch fixed[6] {
	case 'm', 'p', 'q':
		switch {
		case ok1 && ok2:
			return max(date1, date2), true
		case ok1:
			return date1, true
		case ok2:
			return date2, true
		}
		return 0, false
	case 'r', 's', 'e':
		return date1, ok1
	case 't':
		if ok2 && (!ok1 || date2 > date1) {
			return date2, true
		}
		return date1, ok1
	case 'd', 'u', 'c', 'i', 'k':
		best := 0
		for _, token := range yearPattern.FindAllString(note, -1) {
			if n, err := strconv.Atoi(token); err == nil && n > best {
				best = n
			}
		}
		return best, best > 0
	default:
		return 0, false
	}
}

func window(s string, from, to int) string {
	if from >= len(s) {
		return ""
	}
	if to > len(s) {
		to = len(s)
	}
	return s[from:to]
}

// parseDate treats any character that is neither digit nor space as 9, the
// conservative reading of a partially known year, then parses what remains.
func parseDate(raw string) (int, bool) {
	cleaned := strings.TrimSpace(nonDigit.ReplaceAllString(raw, "9"))
	if cleaned == "" {
		return 0, false
	}
	n, err := strconv.Atoi(cleaned)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Check applies the marker and year rules to an already resolved year.
// It returns "" when the volume is eligible.
func Check(year int, marker string) string {
	if marker != PublicDomainMarker {
		return fmt.Sprintf("583X does not equal %q", PublicDomainMarker)
	}
	if year > CopyrightCutoff {
		return fmt.Sprintf("Published in %d", year)
	}
	return ""
}

// Evaluate runs the full determination. It is pure: callers persist the
// result.
func Evaluate(in Input) Result {
	if !in.Reviewed {
		return Result{Verdict: Undetermined, Reason: "No 583 tag in marc record."}
	}
	year, ok := PublicationDate(in.Fixed, in.Note)
	if !ok {
		label := in.Label
		if label == "" {
			label = "volume"
		}
		return Result{Verdict: Undetermined, Reason: fmt.Sprintf("Could not determine date for %s", label)}
	}
	if reason := Check(year, strings.TrimSpace(in.Marker)); reason != "" {
		return Result{Year: year, Known: true, Verdict: Ineligible, Reason: reason}
	}
	return Result{Year: year, Known: true, Verdict: Eligible}
}
