package ticketing

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/stephdeve/SmartQueue/internal/models"
	"github.com/stephdeve/SmartQueue/internal/store"
)

const (
	numberDayLayout = "20060102"
	fallbackPrefix  = "Q"
)

var numberPattern = regexp.MustCompile(`^([^-]+)-(\d{3,})-(\d{8})$`)

// NumberGenerator issues per-service, per-day sequential ticket numbers of the
// form PREFIX-SEQ-YYYYMMDD. Callers must hold the service row lock.
type NumberGenerator struct {
	Location *time.Location
}

func (g NumberGenerator) Next(ctx context.Context, tx store.Tx, service models.Service, now time.Time) (string, error) {
	day := g.Day(now)
	numbers, err := tx.ListDayNumbers(ctx, service.ServiceID, day)
	if err != nil {
		return "", fmt.Errorf("list day numbers: %w", err)
	}
	return FormatNumber(NumberPrefix(service.Name), NextSequence(numbers, day), day), nil
}

func (g NumberGenerator) Day(now time.Time) string {
	loc := g.Location
	if loc == nil {
		loc = time.UTC
	}
	return now.In(loc).Format(numberDayLayout)
}

// NumberPrefix is the upper-cased first letter of the service name.
func NumberPrefix(serviceName string) string {
	r, _ := utf8.DecodeRuneInString(strings.TrimSpace(serviceName))
	if r == utf8.RuneError || !unicode.IsLetter(r) {
		return fallbackPrefix
	}
	return string(unicode.ToUpper(r))
}

func FormatNumber(prefix string, seq int, day string) string {
	return fmt.Sprintf("%s-%03d-%s", prefix, seq, day)
}

func ParseNumber(number string) (prefix string, seq int, day string, ok bool) {
	match := numberPattern.FindStringSubmatch(number)
	if match == nil {
		return "", 0, "", false
	}
	seq, err := strconv.Atoi(match[2])
	if err != nil {
		return "", 0, "", false
	}
	return match[1], seq, match[3], true
}

// NextSequence returns one past the highest sequence issued on day. Numbers
// that do not parse or belong to another day are ignored.
func NextSequence(numbers []string, day string) int {
	highest := 0
	for _, number := range numbers {
		_, seq, numberDay, ok := ParseNumber(number)
		if !ok || numberDay != day {
			continue
		}
		if seq > highest {
			highest = seq
		}
	}
	return highest + 1
}
