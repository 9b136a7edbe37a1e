// Package parser implements Stratum's log-line format parsers and the
// priority-ordered registry that auto-detects which one applies (§4.1).
package parser

import "github.com/stratumhq/stratum/internal/domain"

// Parser turns a single raw log line into a LogEntry. Implementations must
// be CPU-only and must not retain unbounded intermediate state.
type Parser interface {
	Name() string
	TryParse(line string) (domain.LogEntry, bool)
}

// Registry holds parsers in priority order and auto-detects the first one
// that successfully parses a line.
type Registry struct {
	parsers []Parser
}

// NewRegistry builds the default registry: JSON, Nginx, Apache, Syslog, in
// that priority order (§4.1).
func NewRegistry() *Registry {
	return &Registry{parsers: []Parser{
		JSONParser{},
		NginxParser{},
		ApacheParser{},
		SyslogParser{},
	}}
}

// DetectAndParse returns the first parser's successful result, or false if
// none of the registered parsers recognise the line.
func (r *Registry) DetectAndParse(line string) (domain.LogEntry, string, bool) {
	for _, p := range r.parsers {
		if entry, ok := p.TryParse(line); ok {
			return entry, p.Name(), true
		}
	}
	return domain.LogEntry{}, "", false
}

// ByName forces a specific parser, for callers that supply a format hint
// (§4.2, raw ingest with a format hint).
func (r *Registry) ByName(name string) (Parser, bool) {
	for _, p := range r.parsers {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}
