package migrate

import (
	"regexp"
	"strings"
	"time"
)

// ReplayTitle is what a coaching replay title carries besides the name of
// the person coached.
type ReplayTitle struct {
	Name     string
	Type     string
	Octagram string
	// Recorded is zero when the title holds no date.
	Recorded time.Time
}

var (
	typeWord     = regexp.MustCompile(`(?i)^\(?([EI][NS][TF][PJ])(?:'?s)?[),:]?$`)
	octagramWord = regexp.MustCompile(`(?i)^\(?([SU]D)\|?([SU]F)[),:]?$`)
	spaces       = regexp.MustCompile(`\s+`)
)

var titleDateLayouts = []string{
	"2006-01-02",
	"1/2/2006",
	"1/2/06",
	"1-2-2006",
	"1-2-06",
	"1.2.2006",
	"1.2.06",
	"January 2 2006",
	"January 2, 2006",
	"Jan 2 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"2 Jan 2006",
	"Monday January 2 2006",
	"Monday, January 2, 2006",
	"Mon Jan 2 2006",
}

const maxDateWords = 5

// removeFirst drops the first word matching re and returns the submatches
// of it joined together.
func removeFirst(words []string, re *regexp.Regexp) ([]string, string) {
	for i, word := range words {
		match := re.FindStringSubmatch(word)
		if match == nil {
			continue
		}
		rest := append(append([]string{}, words[:i]...), words[i+1:]...)
		return rest, strings.ToUpper(strings.Join(match[1:], ""))
	}
	return words, ""
}

func parseTitleDate(window string, loc *time.Location) (time.Time, bool) {
	window = strings.Trim(window, "()[],")
	for _, layout := range titleDateLayouts {
		t, err := time.ParseInLocation(layout, window, loc)
		if err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseReplayTitle splits a title like "Jane Doe INTJ SD|UF March 3, 2024"
// into its parts. The first type and octagram words are taken, the date is
// the longest run of words that parses as one, interpreted in loc.
func ParseReplayTitle(title string, loc *time.Location) ReplayTitle {
	if loc == nil {
		loc = time.UTC
	}
	var out ReplayTitle
	words := strings.Fields(title)
	words, out.Type = removeFirst(words, typeWord)
	words, out.Octagram = removeFirst(words, octagramWord)

	best := ""
	for i := range words {
		for j := i + 1; j <= len(words) && j-i <= maxDateWords; j++ {
			window := strings.Join(words[i:j], " ")
			if len(window) <= len(best) {
				continue
			}
			t, ok := parseTitleDate(window, loc)
			if ok {
				best = window
				out.Recorded = t
			}
		}
	}

	name := strings.Join(words, " ")
	if best != "" {
		name = strings.Replace(name, best, "", 1)
	}
	out.Name = strings.TrimSpace(spaces.ReplaceAllString(name, " "))
	out.Name = strings.Trim(out.Name, " -|,")
	return out
}
