package toolcall

import (
	"strings"
)

const actionPrefix = "TOOL_ACTION("

// Action is a tool invocation found in model output.
type Action struct {
	Name string
	Args []string
}

// Parse extracts the first TOOL_ACTION("name", "arg", ...) call from one
// line. Arguments are double-quoted strings separated by commas or blanks;
// the call ends at the first ')' outside quotes, so parentheses inside
// arguments are kept and text after the call is ignored.
func Parse(line string) (Action, bool) {
	actions := scan(line, 1)
	if len(actions) == 0 {
		return Action{}, false
	}
	return actions[0], true
}

// ParseAll returns every action found in text, in order.
func ParseAll(text string) []Action {
	var out []Action
	for _, line := range strings.Split(text, "\n") {
		out = append(out, scan(line, -1)...)
	}
	return out
}

// scan returns up to limit actions from line; limit < 0 means all.
func scan(line string, limit int) []Action {
	var out []Action
	for rest := line; limit < 0 || len(out) < limit; {
		i := strings.Index(rest, actionPrefix)
		if i < 0 {
			break
		}
		rest = rest[i+len(actionPrefix):]
		quoted, n, ok := scanArgs(rest)
		if !ok || len(quoted) == 0 {
			continue
		}
		rest = rest[n:]

		args := make([]string, 0, len(quoted)-1)
		for _, q := range quoted[1:] {
			args = append(args, Unescape(q))
		}
		out = append(out, Action{Name: quoted[0], Args: args})
	}
	return out
}

// scanArgs reads quoted arguments up to the closing ')'. It returns the raw
// argument bodies and the number of bytes consumed.
func scanArgs(s string) ([]string, int, bool) {
	quoted := []string{}
	i := 0
	for i < len(s) {
		switch s[i] {
		case ' ', '\t', ',':
			i++
		case ')':
			return quoted, i + 1, true
		case '"':
			j := i + 1
			for j < len(s) && s[j] != '"' {
				if s[j] == '\\' {
					j++
				}
				j++
			}
			if j >= len(s) {
				return nil, 0, false
			}
			quoted = append(quoted, s[i+1:j])
			i = j + 1
		default:
			return nil, 0, false
		}
	}
	return nil, 0, false
}

// Unescape decodes \n, \t, \" and \\ in a single pass. Other backslash
// sequences are left untouched.
func Unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 == len(s) {
			b.WriteByte(c)
			continue
		}
		switch s[i+1] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case '"':
			b.WriteByte('"')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte(c)
			b.WriteByte(s[i+1])
		}
		i++
	}
	return b.String()
}

// FormatResult renders the reply fed back to the model after a tool ran.
func FormatResult(name string, output string) string {
	return `TOOL_RESULT("` + name + `", """` + output + `""")`
}
