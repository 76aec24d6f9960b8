package oracle

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/sn3fru/silvanews-sub001/internal/logging"
)

// errUnparseable is returned when every parsing strategy has failed.
var errUnparseable = errors.New("oracle: response unparseable after all strategies")

// decodeLoose unmarshals model output into v, applying progressively looser
// strategies. Models wrap JSON in prose, markdown fences, or truncate it
// mid-array; each strategy peels one of those failure modes:
//
//  1. direct unmarshal
//  2. markdown fence stripping
//  3. first balanced bracket block extraction
//  4. truncation repair (close open strings/brackets, drop trailing commas)
//  5. per-line object salvage into a JSON array (slice targets only)
func decodeLoose(raw string, v any) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return errUnparseable
	}

	// Strategy 1: direct
	if err := json.Unmarshal([]byte(raw), v); err == nil {
		return nil
	}

	// Strategy 2: strip markdown fences
	if stripped := stripFences(raw); stripped != raw {
		if err := json.Unmarshal([]byte(stripped), v); err == nil {
			logging.Debug("oracle: parsed after fence strip")
			return nil
		}
		raw = stripped
	}

	// Strategy 3: first balanced {...} or [...] block. The full string is
	// kept for the later strategies; recoverable objects may sit past the
	// first block.
	if block := firstBracketBlock(raw); block != "" {
		if err := json.Unmarshal([]byte(block), v); err == nil {
			logging.Debug("oracle: parsed after block extraction")
			return nil
		}
	}

	// Strategy 4: truncation repair
	if repaired := repairTruncation(raw); repaired != "" {
		if err := json.Unmarshal([]byte(repaired), v); err == nil {
			logging.Debug("oracle: parsed after truncation repair")
			return nil
		}
	}

	// Strategy 5: salvage individual objects line by line
	if salvaged := salvageObjects(raw); salvaged != "" {
		if err := json.Unmarshal([]byte(salvaged), v); err == nil {
			logging.Debug("oracle: parsed after object salvage")
			return nil
		}
	}

	return errUnparseable
}

// stripFences removes ```json ... ``` style fences and any prose before
// the first fence or after the last.
func stripFences(s string) string {
	start := strings.Index(s, "```")
	if start < 0 {
		return s
	}
	rest := s[start+3:]
	// Skip a language tag on the fence line
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		first := strings.TrimSpace(rest[:nl])
		if len(first) <= 10 && !strings.ContainsAny(first, "{[") {
			rest = rest[nl+1:]
		}
	}
	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

// firstBracketBlock returns the first balanced top-level JSON object or
// array in s, or "" when none closes. String contents are skipped so
// braces inside values don't unbalance the scan.
func firstBracketBlock(s string) string {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return ""
	}
	open := s[start]
	var close byte = '}'
	if open == '[' {
		close = ']'
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
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// repairTruncation takes a JSON prefix cut off mid-stream and closes it:
// terminates an open string, drops a dangling partial element, strips a
// trailing comma, and closes every open bracket in order.
func repairTruncation(s string) string {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return ""
	}
	s = s[start:]

	var stack []byte
	inString := false
	escaped := false
	lastComplete := -1 // index just past the last completed value

	for i := 0; i < len(s); i++ {
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
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			lastComplete = i + 1
		}
	}

	if len(stack) == 0 && !inString {
		return s
	}

	// Cut back to the last completed element when the tail is a partial
	// object; otherwise just close the string.
	repaired := s
	if lastComplete > 0 && len(stack) > 0 {
		// Keep the outer containers open, drop the partial tail
		tail := s[lastComplete:]
		if strings.ContainsAny(tail, "{[\"") {
			repaired = s[:lastComplete]
			// Recompute the open stack for the trimmed prefix
			stack = stack[:0]
			inString = false
			escaped = false
			for i := 0; i < len(repaired); i++ {
				c := repaired[i]
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
				case '{', '[':
					stack = append(stack, c)
				case '}', ']':
					if len(stack) > 0 {
						stack = stack[:len(stack)-1]
					}
				}
			}
		}
	}
	if inString {
		repaired += `"`
	}
	repaired = strings.TrimRight(repaired, " \t\n\r")
	repaired = strings.TrimSuffix(repaired, ",")
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			repaired += "}"
		} else {
			repaired += "]"
		}
	}
	return repaired
}

// salvageObjects collects every balanced {...} fragment in s into a JSON
// array, recovering individual elements from an otherwise broken listing.
func salvageObjects(s string) string {
	var objs []string
	for {
		block := firstBracketBlock(s)
		if block == "" {
			break
		}
		if block[0] == '{' {
			var check map[string]any
			if err := json.Unmarshal([]byte(block), &check); err == nil {
				objs = append(objs, block)
			}
		} else {
			// An inner array: scan inside it instead
			inner := strings.TrimSpace(block[1 : len(block)-1])
			s = inner
			continue
		}
		idx := strings.Index(s, block)
		s = s[idx+len(block):]
	}
	if len(objs) == 0 {
		return ""
	}
	return "[" + strings.Join(objs, ",") + "]"
}
