package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/stratumhq/stratum/internal/domain"
)

// syslogPattern matches BSD/RFC3164-style lines:
//
//	Mon dd HH:MM:SS host program[pid]: message
var syslogPattern = regexp.MustCompile(
	`^([A-Z][a-z]{2})\s+(\d{1,2}) (\d{2}):(\d{2}):(\d{2}) (\S+) ([^\[:]+)(?:\[(\d+)\])?: (.*)$`,
)

var syslogMonths = map[string]time.Month{
	"Jan": time.January, "Feb": time.February, "Mar": time.March,
	"Apr": time.April, "May": time.May, "Jun": time.June,
	"Jul": time.July, "Aug": time.August, "Sep": time.September,
	"Oct": time.October, "Nov": time.November, "Dec": time.December,
}

// syslogErrorKeywords trigger an Error level when no facility/severity is
// present to derive it from (§4.1: "level Info unless message contains
// error keywords").
var syslogErrorKeywords = []string{"error", "failed", "failure", "fatal", "panic"}

// SyslogParser parses BSD syslog (RFC3164) formatted lines (§4.1).
type SyslogParser struct{}

func (SyslogParser) Name() string { return "syslog" }

func (SyslogParser) TryParse(line string) (domain.LogEntry, bool) {
	m := syslogPattern.FindStringSubmatch(line)
	if m == nil {
		return domain.LogEntry{}, false
	}
	monthStr, dayStr, hh, mm, ss := m[1], m[2], m[3], m[4], m[5]
	host, program, pid, message := m[6], m[7], m[8], m[9]

	month, ok := syslogMonths[monthStr]
	if !ok {
		return domain.LogEntry{}, false
	}
	day, err := strconv.Atoi(dayStr)
	if err != nil {
		return domain.LogEntry{}, false
	}
	hour, _ := strconv.Atoi(hh)
	minute, _ := strconv.Atoi(mm)
	second, _ := strconv.Atoi(ss)

	// RFC3164 carries no year; assume current year (§4.1).
	now := time.Now().UTC()
	ts := time.Date(now.Year(), month, day, hour, minute, second, 0, time.UTC)

	level := domain.LevelInfo
	lower := strings.ToLower(message)
	for _, kw := range syslogErrorKeywords {
		if strings.Contains(lower, kw) {
			level = domain.LevelError
			break
		}
	}

	entry := domain.LogEntry{
		Timestamp: ts,
		Level:     level,
		Service:   program,
		Message:   message,
		Fields: map[string]any{
			"host": host,
		},
	}
	if pid != "" {
		entry.Fields["pid"] = pid
	}
	return entry, true
}
