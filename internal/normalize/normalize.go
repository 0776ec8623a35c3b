// Package normalize turns marketplace free text into canonical listing fields.
package normalize

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/kr-car-crawler/internal/car"
)

// StopWords are marketing filler tokens dropped from listing titles.
var StopWords = []string{"더", "뉴", "어메이징", "올", "디"}

// BobaedreamDrives maps drivetrain abbreviations used by bobaedream onto canonical values.
// RR is mapped to RWD as the site does, even though rear-engine layouts differ physically.
var BobaedreamDrives = map[string]car.Transmission{
	"MR":  car.TransmissionRWD,
	"FR":  car.TransmissionRWD,
	"RR":  car.TransmissionRWD,
	"FF":  car.TransmissionFWD,
	"4WD": car.Transmission4WD,
	"2WD": car.Transmission2WD,
	"AWD": car.TransmissionAWD,
}

// TransmissionMatcher finds the first drivetrain token in a text.
type TransmissionMatcher struct {
	re       *regexp.Regexp
	synonyms map[string]car.Transmission
}

// DefaultTransmission recognizes only the canonical tokens.
var DefaultTransmission = NewTransmissionMatcher(nil)

// NewTransmissionMatcher builds a matcher for the canonical tokens plus the given synonyms.
func NewTransmissionMatcher(synonyms map[string]car.Transmission) *TransmissionMatcher {
	tokens := map[string]car.Transmission{
		"AWD": car.TransmissionAWD,
		"RWD": car.TransmissionRWD,
		"FWD": car.TransmissionFWD,
		"2WD": car.Transmission2WD,
		"4WD": car.Transmission4WD,
	}
	for k, v := range synonyms {
		tokens[k] = v
	}
	alternatives := make([]string, 0, len(tokens))
	for k := range tokens {
		alternatives = append(alternatives, regexp.QuoteMeta(k))
	}
	sort.Slice(alternatives, func(i, j int) bool {
		if len(alternatives[i]) != len(alternatives[j]) {
			return len(alternatives[i]) > len(alternatives[j])
		}
		return alternatives[i] < alternatives[j]
	})
	return &TransmissionMatcher{
		re:       regexp.MustCompile(strings.Join(alternatives, "|")),
		synonyms: tokens,
	}
}

// Match returns the drivetrain of the leftmost token in text, or "" when none is present.
func (m *TransmissionMatcher) Match(text string) car.Transmission {
	token := m.re.FindString(text)
	if token == "" {
		return ""
	}
	return m.synonyms[token]
}

var engineVolume = regexp.MustCompile(`(\d{1,2})\.(\d)`)

// EngineVolume extracts a "D.D" litre figure from text and returns it in cc.
func EngineVolume(text string) *int {
	m := engineVolume.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	litres, _ := strconv.Atoi(m[1])
	tenths, _ := strconv.Atoi(m[2])
	cc := litres*1000 + tenths*100
	return &cc
}

var (
	parenYear = regexp.MustCompile(`\((\d+)`)
	yearMonth = regexp.MustCompile(`^(\d{2})/(\d{2})`)
)

// Year parses either a parenthesized year token or a YY/MM prefix into a four-digit year.
// A trailing 00 month is read as January.
func Year(text string) (int, error) {
	s := strings.TrimSpace(text)
	if m := parenYear.FindStringSubmatch(s); m != nil {
		return expandYear(m[1])
	}
	if strings.HasSuffix(s, "00") {
		s = s[:len(s)-2] + "01"
	}
	m := yearMonth.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("unrecognized year %q", text)
	}
	month, _ := strconv.Atoi(m[2])
	if month < 1 || month > 12 {
		return 0, fmt.Errorf("month out of range in %q", text)
	}
	return expandYear(m[1])
}

// YearFromYYMM reads compact year-month fields such as 1905, 2003 or 201905.0.
// Four digits are always YYMM; six digits are YYYYMM.
func YearFromYYMM(raw string) (int, error) {
	s, err := compactDigits(raw)
	if err != nil {
		return 0, err
	}
	switch len(s) {
	case 6:
		return YearFromYYYYMM(s)
	case 4:
		return expandYear(s[:2])
	default:
		return 0, fmt.Errorf("unrecognized year %q", raw)
	}
}

// YearFromYYYYMM reads six-digit year-month fields such as 202305 or 202305.0.
func YearFromYYYYMM(raw string) (int, error) {
	s, err := compactDigits(raw)
	if err != nil {
		return 0, err
	}
	if len(s) != 6 {
		return 0, fmt.Errorf("unrecognized year %q", raw)
	}
	return expandYear(s[:4])
}

func compactDigits(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if whole, _, ok := strings.Cut(s, "."); ok {
		s = whole
	}
	if _, err := strconv.Atoi(s); err != nil || strings.HasPrefix(s, "-") {
		return "", fmt.Errorf("unrecognized year %q", raw)
	}
	return s, nil
}

func expandYear(digits string) (int, error) {
	switch len(digits) {
	case 4:
		y, err := strconv.Atoi(digits)
		if err != nil {
			return 0, fmt.Errorf("parse year %q: %w", digits, err)
		}
		return y, nil
	case 2:
		t, err := time.Parse("06", digits)
		if err != nil {
			return 0, fmt.Errorf("parse year %q: %w", digits, err)
		}
		return t.Year(), nil
	default:
		return 0, fmt.Errorf("unrecognized year %q", digits)
	}
}

var mileageGroup = regexp.MustCompile(`(\d+(?:\.\d+)?)(만|천)?`)

// Mileage parses distances such as "3만2천km", "50,000km" or "12000ml" into kilometres.
// Malformed input yields 0.
func Mileage(text string) int {
	s := strings.ToLower(strings.Join(strings.Fields(text), ""))
	s = strings.ReplaceAll(s, ",", "")
	miles := false
	switch {
	case strings.HasSuffix(s, "ml"):
		miles = true
		s = strings.TrimSuffix(s, "ml")
	case strings.HasSuffix(s, "km"):
		s = strings.TrimSuffix(s, "km")
	}
	if s == "" {
		return 0
	}
	groups := mileageGroup.FindAllStringSubmatchIndex(s, -1)
	var (
		total float64
		pos   int
	)
	for _, g := range groups {
		if g[0] != pos {
			return 0
		}
		value, err := strconv.ParseFloat(s[g[2]:g[3]], 64)
		if err != nil {
			return 0
		}
		if g[4] >= 0 {
			switch s[g[4]:g[5]] {
			case "만":
				value *= 10000
			case "천":
				value *= 1000
			}
		}
		total += value
		pos = g[1]
	}
	if pos != len(s) {
		return 0
	}
	if miles {
		total *= 1.6
	}
	return int(total)
}

var manWon = regexp.MustCompile(`^(\d+)만원$`)

// Price converts "<digits>만원" text into won. Anything else yields nil.
func Price(text string) *int64 {
	s := strings.ReplaceAll(strings.TrimSpace(text), ",", "")
	m := manWon.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return nil
	}
	won := ManWon(n)
	return &won
}

// ManWon converts an amount quoted in units of 10,000 won into won.
func ManWon(amount int64) int64 {
	return amount * 10000
}

// SplitTitle drops stop words from a listing title and returns mark, model and the remaining grade text.
func SplitTitle(title string) (mark, model, grade string) {
	words := make([]string, 0, 8)
	for _, w := range strings.Fields(title) {
		if isStopWord(w) {
			continue
		}
		words = append(words, w)
	}
	if len(words) > 0 {
		mark = words[0]
	}
	if len(words) > 1 {
		model = words[1]
	}
	if len(words) > 2 {
		grade = strings.Join(words[2:], " ")
	}
	return mark, model, grade
}

func isStopWord(w string) bool {
	for _, stop := range StopWords {
		if w == stop {
			return true
		}
	}
	return false
}
