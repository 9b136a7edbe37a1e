package parser

import (
	"regexp"
	"strconv"
	"time"

	"github.com/stratumhq/stratum/internal/domain"
)

// combinedLogPattern matches the Apache/Nginx "combined" log format:
//
//	ip - user [dd/Mon/yyyy:HH:MM:SS ±ZZZZ] "METHOD path HTTP/x" status bytes "referer" "ua"
var combinedLogPattern = regexp.MustCompile(
	`^(\S+) (\S+) (\S+) \[([^\]]+)\] "(\S+) (\S+) (\S+)" (\d{3}) (\S+) "([^"]*)" "([^"]*)"` +
		`(?: (\S+) (\S+))?$`, // optional Nginx upstream fields
)

const combinedTimeLayout = "02/Jan/2006:15:04:05 -0700"

// ApacheParser parses the Apache Combined Log Format (§4.1).
type ApacheParser struct{}

func (ApacheParser) Name() string { return "apache" }

func (ApacheParser) TryParse(line string) (domain.LogEntry, bool) {
	return parseCombined(line)
}

// NginxParser parses the same combined format, tolerating trailing
// upstream fields that Nginx sometimes appends (§4.1).
type NginxParser struct{}

func (NginxParser) Name() string { return "nginx" }

func (NginxParser) TryParse(line string) (domain.LogEntry, bool) {
	return parseCombined(line)
}

func parseCombined(line string) (domain.LogEntry, bool) {
	m := combinedLogPattern.FindStringSubmatch(line)
	if m == nil {
		return domain.LogEntry{}, false
	}
	ip, _, user := m[1], m[2], m[3]
	rawTime, method, path, proto := m[4], m[5], m[6], m[7]
	statusStr, bytesStr := m[8], m[9]
	referer, ua := m[10], m[11]

	ts, err := time.Parse(combinedTimeLayout, rawTime)
	if err != nil {
		return domain.LogEntry{}, false
	}

	status, err := strconv.Atoi(statusStr)
	if err != nil {
		return domain.LogEntry{}, false
	}

	entry := domain.LogEntry{
		Timestamp: ts.UTC(),
		Level:     levelFromStatus(status),
		Message:   method + " " + path + " " + proto + " " + statusStr,
		Fields: map[string]any{
			"ip":       ip,
			"user":     user,
			"method":   method,
			"path":     path,
			"protocol": proto,
			"status":   status,
			"bytes":    bytesStr,
			"referer":  referer,
			"user_agent": ua,
		},
	}
	if len(m) > 13 && m[12] != "" {
		entry.Fields["upstream_addr"] = m[12]
		entry.Fields["upstream_time"] = m[13]
	}
	return entry, true
}

func levelFromStatus(status int) domain.Level {
	switch {
	case status >= 500:
		return domain.LevelError
	case status >= 400:
		return domain.LevelWarn
	default:
		return domain.LevelInfo
	}
}
