// Package shellquote renders commands as strings that can be pasted into a POSIX shell.
package shellquote

import "strings"

// safe are the bytes that never need quoting.
const safe = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_@%+=:,./-"

// Quote returns s unchanged when it is made of safe bytes only, otherwise
// wrapped in single quotes. Embedded single quotes become '\''.
func Quote(s string) string {
	if s == "" {
		return "''"
	}

	if strings.Trim(s, safe) == "" {
		return s
	}

	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Join quotes bin and every arg and joins them with spaces.
func Join(bin string, args []string) string {
	parts := make([]string, 0, 1+len(args))
	parts = append(parts, Quote(bin))

	for _, arg := range args {
		parts = append(parts, Quote(arg))
	}

	return strings.Join(parts, " ")
}
