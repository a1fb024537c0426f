package classifier

import (
	"regexp"
	"strconv"
)

// stackFramePattern matches common "<path>:<line>: in <function>"-shaped
// frames (pytest tracebacks, Go-style panics, generic file:line:func
// lines). It is deliberately permissive — a miss just skips the line,
// never aborting the resolver.
var stackFramePattern = regexp.MustCompile(`([./\w-]+\.\w+):(\d+)(?::\s*in\s+(\S+))?`)

func parseStackFrame(line string) (file string, lineNo int, fn string, ok bool) {
	m := stackFramePattern.FindStringSubmatch(line)
	if m == nil {
		return "", 0, "", false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, "", false
	}
	return m[1], n, m[3], true
}
