package jsonrepair

import (
	"regexp"
	"strings"
)

var (
	bareKeyPattern       = regexp.MustCompile(`([{,]\s*)([A-Za-z0-9_$][A-Za-z0-9_$\-]*)(\s*):`)
	percentPattern       = regexp.MustCompile(`(\d)\s*%`)
	trailingCommaPattern = regexp.MustCompile(`,(\s*[}\]])`)

	whitespaceReplacer = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ", "\t", " ")
)

type repairStep struct {
	name  string
	apply func(string) string
}

// Balancing runs before comma stripping: an appended closer may follow a dangling comma.
var repairSteps = []repairStep{
	{name: "whitespace", apply: collapseWhitespace},
	{name: "single_quotes", apply: convertSingleQuotes},
	{name: "bare_keys", apply: quoteBareKeys},
	{name: "percent_signs", apply: stripPercentSigns},
	{name: "balance", apply: balanceDelimiters},
	{name: "trailing_commas", apply: stripTrailingCommas},
}

// Repair применяет фиксированную последовательность текстовых исправлений к JSON-подобной строке.
// Повторный вызов на результате ничего не меняет.
func Repair(input string) string {
	out := input
	for _, step := range repairSteps {
		out = step.apply(out)
	}

	return out
}

// StepNames возвращает имена шагов починки в порядке применения.
func StepNames() []string {
	names := make([]string, 0, len(repairSteps))
	for _, step := range repairSteps {
		names = append(names, step.name)
	}

	return names
}

func collapseWhitespace(input string) string {
	return whitespaceReplacer.Replace(input)
}

func quoteBareKeys(input string) string {
	return mapOutsideStrings(input, func(segment string) string {
		return bareKeyPattern.ReplaceAllString(segment, `${1}"${2}"${3}:`)
	})
}

func stripPercentSigns(input string) string {
	return mapOutsideStrings(input, func(segment string) string {
		return percentPattern.ReplaceAllString(segment, "${1}")
	})
}

func stripTrailingCommas(input string) string {
	return mapOutsideStrings(input, func(segment string) string {
		for {
			next := trailingCommaPattern.ReplaceAllString(segment, "${1}")
			if next == segment {
				return next
			}
			segment = next
		}
	})
}

func convertSingleQuotes(input string) string {
	if !strings.Contains(input, "'") {
		return input
	}

	var b strings.Builder
	b.Grow(len(input))

	for i := 0; i < len(input); {
		ch := input[i]

		switch {
		case ch == '"':
			end := stringEnd(input, i)
			b.WriteString(input[i:end])
			i = end
		case ch == '\'' && opensLiteral(input, i):
			b.WriteByte('"')
			j := i + 1
			for j < len(input) {
				c := input[j]
				if c == '\\' && j+1 < len(input) {
					if input[j+1] == '\'' {
						b.WriteByte('\'')
					} else {
						b.WriteByte(c)
						b.WriteByte(input[j+1])
					}
					j += 2
					continue
				}
				if c == '\'' && closesLiteral(input, j) {
					j++
					break
				}
				if c == '"' {
					b.WriteString(`\"`)
					j++
					continue
				}
				b.WriteByte(c)
				j++
			}
			b.WriteByte('"')
			i = j
		default:
			b.WriteByte(ch)
			i++
		}
	}

	return b.String()
}

func opensLiteral(input string, index int) bool {
	for k := index - 1; k >= 0; k-- {
		switch input[k] {
		case ' ':
			continue
		case '{', '[', ',', ':':
			return true
		default:
			return false
		}
	}

	return true
}

func closesLiteral(input string, index int) bool {
	for k := index + 1; k < len(input); k++ {
		switch input[k] {
		case ' ':
			continue
		case ',', '}', ']', ':':
			return true
		default:
			return false
		}
	}

	return true
}

func balanceDelimiters(input string) string {
	stack := make([]byte, 0)
	inString := false
	escaped := false

	for i := 0; i < len(input); i++ {
		ch := input[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == ch {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if !inString && len(stack) == 0 {
		return input
	}

	out := input
	if inString {
		if escaped {
			out = out[:len(out)-1]
		}
		out += `"`
	}

	for i := len(stack) - 1; i >= 0; i-- {
		out += string(stack[i])
	}

	return out
}

// mapOutsideStrings applies fn to every segment that lies outside double-quoted literals.
func mapOutsideStrings(input string, fn func(string) string) string {
	if !strings.Contains(input, `"`) {
		return fn(input)
	}

	var b strings.Builder
	b.Grow(len(input))

	segmentStart := 0
	for i := 0; i < len(input); {
		if input[i] != '"' {
			i++
			continue
		}

		b.WriteString(fn(input[segmentStart:i]))
		end := stringEnd(input, i)
		b.WriteString(input[i:end])
		i = end
		segmentStart = end
	}
	b.WriteString(fn(input[segmentStart:]))

	return b.String()
}

// stringEnd returns the index just past the closing quote of the literal opened at start.
func stringEnd(input string, start int) int {
	escaped := false
	for j := start + 1; j < len(input); j++ {
		switch {
		case escaped:
			escaped = false
		case input[j] == '\\':
			escaped = true
		case input[j] == '"':
			return j + 1
		}
	}

	return len(input)
}
