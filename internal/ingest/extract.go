package ingest

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"cloud.google.com/go/civil"
	"github.com/rpggio/dutylog/internal/domain/protocol"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Parser turns a message into a candidate protocol.
type Parser interface {
	Extract(msg Message) (*Candidate, bool)
}

var (
	numberPattern    = regexp.MustCompile(`(?i)(?:\bn[°ºo]\.?|#)\s*(\d+)`)
	timestampPattern = regexp.MustCompile(`<t:(-?\d+)(?::[a-zA-Z])?>`)
	mentionPattern   = regexp.MustCompile(`<@!?(\d+)>`)
	durationPattern  = regexp.MustCompile(`(\d+)\s*([dhms])`)
	brDatePattern    = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})\b`)
	isoDatePattern   = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	clockPattern     = regexp.MustCompile(`\b(\d{1,2}):(\d{2})(?::(\d{2}))?\b`)
	digitsPattern    = regexp.MustCompile(`\d+`)
	urlPattern       = regexp.MustCompile(`https?://[^\s<>]+`)
)

type fieldKind int

const (
	fieldDate fieldKind = iota
	fieldStart
	fieldEnd
	fieldPilot
	fieldVehicle
	fieldDuration
	fieldStatus
)

// Labels are matched as substrings of the folded field name. A name may
// match several labels.
var fieldLabels = []struct {
	kind   fieldKind
	labels []string
}{
	{fieldDate, []string{"data"}},
	{fieldStart, []string{"inicio"}},
	{fieldVehicle, []string{"veiculo"}},
	{fieldPilot, []string{"piloto"}},
	{fieldEnd, []string{"retorno", "fim"}},
	{fieldDuration, []string{"duracao"}},
	{fieldStatus, []string{"status"}},
}

// Extractor recovers protocol fields from the reporting bot's messages.
// Unix timestamps are read in its location.
type Extractor struct {
	loc *time.Location
}

// NewExtractor creates an Extractor. A nil location means UTC.
func NewExtractor(loc *time.Location) *Extractor {
	if loc == nil {
		loc = time.UTC
	}
	return &Extractor{loc: loc}
}

// Extract parses msg. The first embed is used when present, otherwise the
// message text. It returns false when date, start, pilot or vehicle is missing.
func (e *Extractor) Extract(msg Message) (*Candidate, bool) {
	c := &Candidate{MessageID: msg.ID}

	if len(msg.Embeds) > 0 {
		embed := msg.Embeds[0]
		if m := numberPattern.FindStringSubmatch(embed.Title); m != nil {
			c.Number = m[1]
		}
		for _, f := range embed.Fields {
			e.apply(c, fold(f.Name), f.Value)
		}
	} else {
		e.parseText(c, msg.Content)
	}

	if m := urlPattern.FindString(msg.Content); m != "" {
		link := strings.TrimRight(m, ").,;")
		c.Link = &link
	}

	if !c.Complete() {
		return nil, false
	}

	if c.Status == "" {
		c.Status = protocol.StatusFinalized
	}
	if c.Status == protocol.StatusFinalized && c.End == nil {
		end := *c.Start
		c.End = &end
		c.EndDefaulted = true
	}
	return c, true
}

func (e *Extractor) parseText(c *Candidate, content string) {
	for _, line := range strings.Split(content, "\n") {
		label, value := splitLine(line)
		if label == "" {
			continue
		}
		if strings.Contains(label, "protocolo") {
			if m := digitsPattern.FindString(value); m != "" {
				c.Number = m
			}
			continue
		}
		e.apply(c, label, value)
	}
}

// splitLine separates a "Label: value" or "Label value" line. The label is
// the leading run of letters and spaces, folded.
func splitLine(line string) (string, string) {
	line = strings.Trim(line, " \t\r*_>-")
	cut := len(line)
	for i, r := range line {
		if !unicode.IsLetter(r) && !unicode.IsSpace(r) && r != '*' && r != '_' {
			cut = i
			break
		}
	}
	label, value := line[:cut], line[cut:]
	if strings.TrimSpace(value) == "" {
		// No separator: the first word is the label.
		first, rest, ok := strings.Cut(strings.TrimSpace(label), " ")
		if !ok {
			return "", ""
		}
		label, value = first, rest
	}
	label = fold(strings.Trim(label, " *_"))
	value = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(value), ":-=*_"))
	return label, value
}

// apply assigns value to every field whose label occurs in name.
func (e *Extractor) apply(c *Candidate, name, value string) {
	for _, fl := range fieldLabels {
		if !matchesAny(name, fl.labels) {
			continue
		}
		switch fl.kind {
		case fieldDate:
			if d, ok := e.parseDate(value); ok {
				c.Date = &d
			}
		case fieldStart:
			if t, ok := e.parseClock(value); ok {
				c.Start = &t
			}
		case fieldEnd:
			if t, ok := e.parseClock(value); ok {
				c.End = &t
			}
		case fieldPilot:
			if p := cleanIdentity(value); p != "" {
				c.Pilot = p
			}
		case fieldVehicle:
			if v := strings.TrimSpace(strings.ReplaceAll(value, "`", "")); v != "" {
				c.Vehicle = v
			}
		case fieldDuration:
			c.DurationSeconds = ParseDuration(value)
		case fieldStatus:
			if s, ok := parseStatusText(value); ok {
				c.Status = s
			}
		}
	}
}

func matchesAny(name string, labels []string) bool {
	for _, l := range labels {
		if strings.Contains(name, l) {
			return true
		}
	}
	return false
}

func (e *Extractor) parseDate(value string) (civil.Date, bool) {
	if ts, ok := unixTimestamp(value); ok {
		return civil.DateOf(time.Unix(ts, 0).In(e.loc)), true
	}
	if m := brDatePattern.FindStringSubmatch(value); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		d := civil.Date{Year: year, Month: time.Month(month), Day: day}
		return d, d.IsValid()
	}
	if m := isoDatePattern.FindStringSubmatch(value); m != nil {
		d, err := civil.ParseDate(m[1])
		return d, err == nil
	}
	return civil.Date{}, false
}

func (e *Extractor) parseClock(value string) (civil.Time, bool) {
	if ts, ok := unixTimestamp(value); ok {
		return civil.TimeOf(time.Unix(ts, 0).In(e.loc)), true
	}
	if m := clockPattern.FindStringSubmatch(value); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute, _ := strconv.Atoi(m[2])
		second := 0
		if m[3] != "" {
			second, _ = strconv.Atoi(m[3])
		}
		t := civil.Time{Hour: hour, Minute: minute, Second: second}
		return t, t.IsValid()
	}
	return civil.Time{}, false
}

func unixTimestamp(value string) (int64, bool) {
	m := timestampPattern.FindStringSubmatch(value)
	if m == nil {
		return 0, false
	}
	ts, err := strconv.ParseInt(m[1], 10, 64)
	return ts, err == nil
}

// cleanIdentity reduces a mention to the bare user id and strips markup.
func cleanIdentity(value string) string {
	if m := mentionPattern.FindStringSubmatch(value); m != nil {
		return m[1]
	}
	return strings.TrimSpace(strings.NewReplacer("<", "", ">", "", "@", "", "`", "").Replace(value))
}

// ParseDuration sums day, hour, minute and second tokens such as "1d 2h 3m 4s".
func ParseDuration(value string) int64 {
	var total int64
	for _, m := range durationPattern.FindAllStringSubmatch(strings.ToLower(value), -1) {
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		switch m[2] {
		case "d":
			total += n * 86400
		case "h":
			total += n * 3600
		case "m":
			total += n * 60
		case "s":
			total += n
		}
	}
	return total
}

func parseStatusText(value string) (protocol.Status, bool) {
	folded := fold(value)
	switch {
	case strings.Contains(folded, "finalizado") || strings.Contains(value, "✅"):
		return protocol.StatusFinalized, true
	case strings.Contains(folded, "aberto") || strings.Contains(value, "🔓"):
		return protocol.StatusOpen, true
	}
	s, err := protocol.ParseStatus(strings.Trim(value, " `*_"))
	return s, err == nil
}

// fold lowercases s and drops combining marks so "Início" matches "inicio".
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.TrimSpace(out))
}
