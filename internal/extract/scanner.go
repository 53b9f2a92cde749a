package extract

// block is a top-level bracket-delimited span s[start:end].
type block struct {
	start, end int
}

// scanBlocks finds top-level JSON object and array candidates in s.
// It tracks a bracket stack and skips double-quoted strings inside a block,
// so braces in string values and stray quotes in surrounding prose do not
// confuse it. A mismatched closer abandons the current block.
//
// open is the start of a block still unterminated at end of input (the
// usual shape of a truncated response), or -1.
//
// Iterating bytes is safe for the ASCII delimiters because UTF-8 never
// encodes them inside a multi-byte sequence.
func scanBlocks(s string) (blocks []block, open int) {
	var stack []byte
	start := -1
	inString, escape := false, false

	for i := 0; i < len(s); i++ {
		b := s[i]

		if escape {
			escape = false
			continue
		}
		if inString {
			if b == '\\' {
				escape = true
			} else if b == '"' {
				inString = false
			}
			continue
		}

		switch b {
		case '"':
			if len(stack) > 0 {
				inString = true
			}
		case '{', '[':
			if len(stack) == 0 {
				start = i
			}
			stack = append(stack, b)
		case '}', ']':
			if len(stack) == 0 {
				continue
			}
			if !matches(stack[len(stack)-1], b) {
				stack = stack[:0]
				start = -1
				continue
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 && start != -1 {
				blocks = append(blocks, block{start: start, end: i + 1})
				start = -1
			}
		}
	}

	if len(stack) > 0 {
		return blocks, start
	}
	return blocks, -1
}

func matches(open, close byte) bool {
	return (open == '{' && close == '}') || (open == '[' && close == ']')
}
