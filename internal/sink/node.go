package sink

import (
	"os"
	"strings"
)

// DeriveNodeName returns the local hostname, sanitized to the character set
// the node table's node_name column accepts: letters, digits, '.', '_' and
// '-'. Anything else (most commonly a stray domain-name character from a
// fully-qualified hostname) is replaced with '_'.
func DeriveNodeName() (string, error) {
	name, err := os.Hostname()
	if err != nil {
		return "", err
	}
	return sanitizeNodeName(name), nil
}

func sanitizeNodeName(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
