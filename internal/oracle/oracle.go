// Package oracle defines the reasoning capability the engine calls for
// decomposition, aggregation, quality evaluation, and complexity analysis.
// The engine depends only on the Oracle interface; the Anthropic-backed
// client in this package is one implementation.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Request describes one reasoning call.
type Request struct {
	// Prompt is the user-role content of the call.
	Prompt string
	// System is an optional system-role preamble.
	System string
	// MaxTokens caps the response size. Zero uses the implementation default.
	MaxTokens int64
}

// Oracle is an opaque reasoning capability. Implementations may fail
// generically; callers wrap failures in their own error taxonomy.
type Oracle interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Func adapts a plain function to the Oracle interface.
type Func func(ctx context.Context, req Request) (string, error)

// Complete implements Oracle.
func (f Func) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// DecodeJSON parses a JSON document out of an oracle response into v.
// Responses frequently wrap JSON in markdown fences or surround it with
// prose; this strips fences and scans to the first object or array.
func DecodeJSON(raw string, v any) error {
	cleaned := extractJSON(raw)
	if cleaned == "" {
		return fmt.Errorf("no JSON found in response")
	}
	if err := json.Unmarshal([]byte(cleaned), v); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// extractJSON strips markdown code fences and leading/trailing prose,
// returning the first complete JSON object or array in the text.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// Strip a fenced block if present.
	if idx := strings.Index(s, "```"); idx >= 0 {
		rest := s[idx+3:]
		// Skip an optional language tag on the fence line.
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			s = strings.TrimSpace(rest[:end])
		}
	}

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return ""
	}
	open := s[start]
	closer := byte('}')
	if open == '[' {
		closer = ']'
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case closer:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
