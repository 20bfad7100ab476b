// Package routes turns handler sources into a routing table. A handler
// declares its route in a comment on its first line:
//
//	// GET /users/{userId}
//	/// PUT /users/{userId}
//	/* DELETE /users/{userId} */
//	// /hello/{name}            (method defaults to GET)
//
// Anything else leaves the handler loaded but unrouted.
package routes

import "strings"

// Methods lists the verbs a route annotation may name.
var Methods = []string{"GET", "POST", "PUT", "DELETE", "PATCH"}

func isMethod(s string) bool {
	for _, m := range Methods {
		if m == s {
			return true
		}
	}
	return false
}

// ParseAnnotation reads the route comment from the first line of src. An
// empty path means the handler is unrouted. An empty method with a path
// means GET.
func ParseAnnotation(src string) (method, path string) {
	line, _, _ := strings.Cut(src, "\n")
	line = strings.TrimSpace(strings.TrimPrefix(line, "\ufeff"))

	var body string
	switch {
	case strings.HasPrefix(line, "///"):
		body = line[3:]
	case strings.HasPrefix(line, "//"):
		body = line[2:]
	case strings.HasPrefix(line, "/*"):
		inner, ok := strings.CutSuffix(line[2:], "*/")
		if !ok {
			return "", ""
		}
		body = inner
	default:
		return "", ""
	}

	fields := strings.Fields(body)
	if len(fields) == 0 {
		return "", ""
	}
	if first := strings.ToUpper(fields[0]); isMethod(first) {
		if len(fields) < 2 || !strings.HasPrefix(fields[1], "/") {
			return "", ""
		}
		return first, fields[1]
	}
	if strings.HasPrefix(fields[0], "/") {
		return "", fields[0]
	}
	return "", ""
}
