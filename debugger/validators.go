package debugger

import "regexp"

var fileLineRe = regexp.MustCompile(`^.+:[0-9]*[1-9][0-9]*$`)

// LooksLikeFileLine accepts exactly "path:N" with N a positive integer
// and path non-empty.
func LooksLikeFileLine(s string) bool {
	return fileLineRe.MatchString(s)
}

var functionNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// LooksLikeFunctionName accepts a non-empty string whose first character
// is a letter or underscore and whose remaining characters are letters,
// digits, or underscores.
func LooksLikeFunctionName(s string) bool {
	return functionNameRe.MatchString(s)
}
