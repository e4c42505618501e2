package mohnet

import (
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// Tokenize splits a command line the way the engine does: whitespace
// separated, double quotes group, // and /* */ start comments
func Tokenize(s string) []string {
	var args []string
	for {
		// skip whitespace and comments
		for {
			for len(s) > 0 && s[0] <= ' ' {
				s = s[1:]
			}
			if len(s) == 0 {
				return args
			}
			if strings.HasPrefix(s, "//") {
				return args
			}
			if strings.HasPrefix(s, "/*") {
				end := strings.Index(s[2:], "*/")
				if end < 0 {
					return args
				}
				s = s[2+end+2:]
				continue
			}
			break
		}

		if s[0] == '"' {
			s = s[1:]
			end := strings.IndexByte(s, '"')
			if end < 0 {
				return append(args, s)
			}
			args = append(args, s[:end])
			s = s[end+1:]
			continue
		}

		i := 0
		for i < len(s) && s[i] > ' ' {
			if s[i] == '"' || strings.HasPrefix(s[i:], "//") || strings.HasPrefix(s[i:], "/*") {
				break
			}
			i++
		}
		args = append(args, s[:i])
		s = s[i:]
	}
}

// ArgsFrom joins args starting at n with single spaces
func ArgsFrom(args []string, n int) string {
	if n >= len(args) {
		return ""
	}
	return strings.Join(args[n:], " ")
}

// DecodeText converts Windows-1252 text received from a server to UTF-8
func DecodeText(s string) string {
	r, err := charmap.Windows1252.NewDecoder().String(s)
	if err != nil {
		return s
	}
	return r
}

// EncodeText converts UTF-8 to the Windows-1252 text servers expect,
// characters outside the code page are dropped
func EncodeText(s string) string {
	r, err := charmap.Windows1252.NewEncoder().String(s)
	if err != nil {
		var b strings.Builder
		for _, c := range s {
			if e, ok := charmap.Windows1252.EncodeRune(c); ok {
				b.WriteByte(e)
			}
		}
		return b.String()
	}
	return r
}
