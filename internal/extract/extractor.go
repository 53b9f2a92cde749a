// Package extract pulls a candidate payload out of raw model text. Absence of
// a payload is a normal outcome reported as an "unparseable" validation
// error, never a panic or a Go error.
package extract

import (
	"encoding/json"
	"fmt"
	"go/parser"
	"go/token"
	"strings"

	"vizguard/internal/logging"
	"vizguard/internal/types"
)

// Extractor turns RawModelOutput into at most one Candidate.
// It is stateless and safe for concurrent use.
type Extractor struct{}

// New returns an Extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extract dispatches on the expected candidate kind.
func (e *Extractor) Extract(raw string, kind types.CandidateKind, attempt int) (*types.Candidate, *types.ValidationError) {
	if kind == types.CandidateCode {
		return e.ExtractCode(raw, attempt)
	}
	return e.ExtractStructured(raw, attempt)
}

// ExtractStructured finds the last complete JSON object (or array of
// objects) in raw. When nothing parses, one repair pass is attempted on the
// most promising block before giving up.
func (e *Extractor) ExtractStructured(raw string, attempt int) (*types.Candidate, *types.ValidationError) {
	blocks, open := scanBlocks(raw)

	for i := len(blocks) - 1; i >= 0; i-- {
		b := blocks[i]
		if obj, err := decodePayload(raw[b.start:b.end]); err == nil {
			logging.ExtractDebug("attempt %d: candidate %d/%d parsed at offset %d", attempt, i+1, len(blocks), b.start)
			return &types.Candidate{
				Kind:    types.CandidateStructured,
				Object:  obj,
				Attempt: attempt,
				Offset:  b.start,
			}, nil
		}
	}

	// Repair target: a truncated tail wins over an earlier malformed block.
	offset := -1
	switch {
	case open != -1:
		offset = open
	case len(blocks) > 0:
		offset = blocks[len(blocks)-1].start
	}
	if offset == -1 {
		return nil, unparseable("no JSON object or array found in model output")
	}

	var target string
	if open == -1 {
		target = raw[offset:blocks[len(blocks)-1].end]
	} else {
		target = truncatedTail(raw, open)
	}

	repaired, fallback := repairJSON(target)
	obj, err := decodePayload(repaired)
	if err != nil && fallback != "" {
		obj, err = decodePayload(fallback)
	}
	if err != nil {
		logging.Extract("attempt %d: repair failed: %v", attempt, err)
		return nil, unparseable(fmt.Sprintf("JSON payload is malformed and could not be repaired: %v", err))
	}

	logging.Extract("attempt %d: payload at offset %d recovered by repair", attempt, offset)
	return &types.Candidate{
		Kind:     types.CandidateStructured,
		Object:   obj,
		Attempt:  attempt,
		Offset:   offset,
		Repaired: true,
	}, nil
}

// truncatedTail is the text of a block still open at end of input. It stops
// at the end of the enclosing fence body, or at the first fence marker when
// the block is not fenced, so closing fences and trailing prose never reach
// the repair pass.
func truncatedTail(raw string, open int) string {
	for _, f := range findFences(raw) {
		end := f.offset + len(f.body)
		if open >= f.offset && open < end {
			return raw[open:end]
		}
	}
	if idx := strings.Index(raw[open:], "```"); idx != -1 {
		return raw[open : open+idx]
	}
	return raw[open:]
}

// decodePayload accepts an object, or a non-empty array of objects which is
// wrapped as {"proposals": [...]}.
func decodePayload(text string) (map[string]any, error) {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, err
	}
	switch t := v.(type) {
	case map[string]any:
		return t, nil
	case []any:
		if len(t) == 0 {
			return nil, fmt.Errorf("empty array")
		}
		for _, item := range t {
			if _, ok := item.(map[string]any); !ok {
				return nil, fmt.Errorf("array element is %T, not an object", item)
			}
		}
		return map[string]any{"proposals": t}, nil
	default:
		return nil, fmt.Errorf("payload is %T, not an object", v)
	}
}

// =============================================================================
// CODE CANDIDATES
// =============================================================================

// fence is one ``` delimited block.
type fence struct {
	lang   string
	body   string
	offset int
	closed bool
}

// findFences returns every fenced block in order. An opening fence with no
// closing fence runs to end of input.
func findFences(raw string) []fence {
	var fences []fence
	pos := 0
	for {
		idx := strings.Index(raw[pos:], "```")
		if idx == -1 {
			return fences
		}
		open := pos + idx
		headerEnd := strings.IndexByte(raw[open:], '\n')
		if headerEnd == -1 {
			return fences
		}
		lang := strings.ToLower(strings.TrimSpace(raw[open+3 : open+headerEnd]))
		bodyStart := open + headerEnd + 1

		end := strings.Index(raw[bodyStart:], "```")
		if end == -1 {
			fences = append(fences, fence{lang: lang, body: raw[bodyStart:], offset: bodyStart})
			return fences
		}
		fences = append(fences, fence{lang: lang, body: raw[bodyStart : bodyStart+end], offset: bodyStart, closed: true})
		pos = bodyStart + end + 3
	}
}

// ExtractCode finds the last Go snippet in raw and checks that it parses.
// Fences tagged go are preferred over untagged ones; with no fences the
// text from the first package clause is used.
func (e *Extractor) ExtractCode(raw string, attempt int) (*types.Candidate, *types.ValidationError) {
	src, offset := pickSnippet(raw)
	if strings.TrimSpace(src) == "" {
		return nil, unparseable("no Go code block found in model output")
	}

	repaired := false
	if err := parseGo(src); err != nil {
		// One repair: a snippet missing its package clause.
		if !strings.HasPrefix(strings.TrimSpace(src), "package ") {
			if parseGo("package main\n\n"+src) == nil {
				src = "package main\n\n" + src
				repaired = true
			}
		}
		if !repaired {
			return nil, unparseable(fmt.Sprintf("Go snippet does not parse: %v", err))
		}
	}

	logging.ExtractDebug("attempt %d: code candidate at offset %d (%d bytes)", attempt, offset, len(src))
	return &types.Candidate{
		Kind:     types.CandidateCode,
		Source:   strings.TrimSpace(src) + "\n",
		Attempt:  attempt,
		Offset:   offset,
		Repaired: repaired,
	}, nil
}

func pickSnippet(raw string) (string, int) {
	fences := findFences(raw)
	for i := len(fences) - 1; i >= 0; i-- {
		if fences[i].lang == "go" || fences[i].lang == "golang" {
			return fences[i].body, fences[i].offset
		}
	}
	for i := len(fences) - 1; i >= 0; i-- {
		if fences[i].lang == "" {
			return fences[i].body, fences[i].offset
		}
	}
	if idx := strings.Index(raw, "package "); idx != -1 {
		return raw[idx:], idx
	}
	return "", -1
}

func parseGo(src string) error {
	_, err := parser.ParseFile(token.NewFileSet(), "snippet.go", src, parser.AllErrors)
	return err
}

func unparseable(detail string) *types.ValidationError {
	return &types.ValidationError{
		Kind:     types.KindUnparseable,
		Detail:   detail,
		Severity: types.SeverityError,
	}
}
