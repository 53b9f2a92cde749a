package extract

import "bytes"

// repairJSON rewrites the common malformations of model-written JSON in a
// single pass: single-quoted strings, trailing commas, strings left open at a
// line break or end of input, and brackets left open by truncation.
//
// It returns the repaired text and, when the input was truncated, a second
// variant cut back to the last complete element at the innermost depth.
func repairJSON(s string) (repaired string, fallback string) {
	out := make([]byte, 0, len(s)+8)
	var stack []byte
	var cuts []int // len(out) at each separator comma, per depth
	var cutStack [][]int

	inString, escape := false, false
	var quote byte

	for i := 0; i < len(s); i++ {
		c := s[i]

		if inString {
			switch {
			case escape:
				escape = false
				out = append(out, c)
			case c == '\\':
				if quote == '\'' && i+1 < len(s) && s[i+1] == '\'' {
					out = append(out, '\'')
					i++
					continue
				}
				escape = true
				out = append(out, c)
			case c == quote:
				inString = false
				out = append(out, '"')
			case c == '"':
				out = append(out, '\\', '"')
			case c == '\n':
				inString = false
				out = append(out, '"', c)
			default:
				out = append(out, c)
			}
			continue
		}

		switch c {
		case '"', '\'':
			inString = true
			quote = c
			out = append(out, '"')
		case '{', '[':
			stack = append(stack, c)
			cutStack = append(cutStack, cuts)
			cuts = nil
			out = append(out, c)
		case '}', ']':
			out = trimTrailingComma(out)
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
				cuts = cutStack[len(cutStack)-1]
				cutStack = cutStack[:len(cutStack)-1]
			}
			out = append(out, c)
		case ',':
			cuts = append(cuts, len(out))
			out = append(out, c)
		default:
			out = append(out, c)
		}
	}

	truncated := inString || len(stack) > 0
	if inString {
		out = append(out, '"')
	}
	repaired = string(closeAll(out, stack))

	if truncated {
		// cutStack[d+1] holds the separators seen inside stack[d]
		for d := len(stack) - 1; d >= 0; d-- {
			level := cuts
			if d < len(stack)-1 {
				level = cutStack[d+1]
			}
			if len(level) > 0 {
				fallback = string(closeAll(out[:level[len(level)-1]], stack[:d+1]))
				break
			}
		}
	}
	return repaired, fallback
}

func closeAll(out []byte, stack []byte) []byte {
	buf := append([]byte(nil), out...)
	buf = trimTrailingComma(buf)
	if bytes.HasSuffix(buf, []byte(":")) {
		buf = append(buf, "null"...)
	}
	for i := len(stack) - 1; i >= 0; i-- {
		buf = trimTrailingComma(buf)
		if stack[i] == '{' {
			buf = append(buf, '}')
		} else {
			buf = append(buf, ']')
		}
	}
	return buf
}

func trimTrailingComma(out []byte) []byte {
	trimmed := bytes.TrimRight(out, " \t\r\n")
	if len(trimmed) > 0 && trimmed[len(trimmed)-1] == ',' {
		return trimmed[:len(trimmed)-1]
	}
	return out
}
