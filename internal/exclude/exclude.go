// Package exclude implements the sync engine's pattern matcher: an ordered
// set of user-supplied glob-like patterns, each compiled to a regular
// expression matcher, tested against relative paths before they're allowed
// to enter a delay FIFO.
//
// The compilation rules are bespoke to this engine (modeled on rsync filter
// syntax) rather than a general-purpose glob library: a leading "/" anchors
// at the sync root, "*" matches one path segment, "**" matches any suffix,
// "?" matches one non-slash character, and every other rsync-filter
// metacharacter is taken literally. See DESIGN.md for why this is built on
// regexp rather than a third-party glob matcher.
package exclude

import (
	"bufio"
	"os"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/antirek/lsyncd/internal/logging"
)

// entry pairs a user-supplied pattern with its compiled matcher.
type entry struct {
	pattern string
	matcher *regexp.Regexp
}

// Set is an ordered collection of exclude patterns.
type Set struct {
	log     *logging.Logger
	entries []entry
}

// New creates an empty exclude set.
func New(log *logging.Logger) *Set {
	return &Set{log: log}
}

// Add compiles pattern and appends it to the set. It is idempotent: adding a
// pattern already present is a no-op.
func (s *Set) Add(pattern string) error {
	for _, e := range s.entries {
		if e.pattern == pattern {
			return nil
		}
	}

	matcher, err := compile(pattern)
	if err != nil {
		return errors.Wrapf(err, "unable to compile exclude pattern %q", pattern)
	}

	s.entries = append(s.entries, entry{pattern: pattern, matcher: matcher})
	return nil
}

// Remove removes pattern (matched against its original string) from the
// set. Removing a pattern that isn't present logs a warning but is not an
// error.
func (s *Set) Remove(pattern string) {
	for i, e := range s.entries {
		if e.pattern == pattern {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return
		}
	}
	s.log.Warnf("exclude pattern not present, ignoring remove: %q", pattern)
}

// LoadFile parses path as one pattern per line. A leading "+" (inclusion) is
// explicitly unsupported and is skipped with a log message. Leading
// whitespace and a leading "-" are stripped from each line.
func (s *Set) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "unable to open exclude file %q", path)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimLeft(scanner.Text(), " \t")
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "+") {
			s.log.Printf("exclude file %q: '+' inclusion rules are not supported, skipping: %q", path, line)
			continue
		}
		line = strings.TrimPrefix(line, "-")
		line = strings.TrimLeft(line, " \t")
		if line == "" {
			continue
		}
		if err := s.Add(line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "unable to read exclude file %q", path)
	}
	return nil
}

// Test reports whether relative path matches any pattern in the set.
func (s *Set) Test(path string) bool {
	for _, e := range s.entries {
		if e.matcher.MatchString(path) {
			return true
		}
	}
	return false
}

// Patterns returns the original pattern strings, in insertion order, for
// display in the status file.
func (s *Set) Patterns() []string {
	patterns := make([]string, len(s.entries))
	for i, e := range s.entries {
		patterns[i] = e.pattern
	}
	return patterns
}

// compile translates one user pattern into a regular expression matcher
// per the glob-to-regex rules below.
func compile(pattern string) (*regexp.Regexp, error) {
	anchored := strings.HasPrefix(pattern, "/")
	if anchored {
		pattern = pattern[1:]
	}

	subtree := strings.HasSuffix(pattern, "/")
	if subtree {
		pattern = strings.TrimSuffix(pattern, "/")
	}

	var sb strings.Builder
	sb.WriteByte('^')
	if !anchored {
		// An unanchored pattern may match starting at any path segment
		// boundary, i.e. at the start of the relative path or immediately
		// after a "/".
		sb.WriteString("(?:.*/)?")
	}

	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch r {
		case '*':
			if i+1 < len(runes) && runes[i+1] == '*' {
				sb.WriteString(".*")
				i++
			} else {
				sb.WriteString("[^/]*")
			}
		case '?':
			sb.WriteString("[^/]")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}

	if subtree {
		sb.WriteString("(?:/.*)?$")
	} else {
		sb.WriteString("$")
	}

	return regexp.Compile(sb.String())
}
