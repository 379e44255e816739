// Package target parses and formats the target side of a sync: either a
// plain local path or an SCP-style "[user@]host[:port]:path" spec, the
// addressing scheme "-rsyncssh SRC HOST DIR" and a config file's "target"
// field both accept. It is grounded on the teacher's endpoint URL parser,
// trimmed to the two protocols this daemon's built-in actions understand
// (local and SSH) and rebuilt around a plain struct instead of a generated
// protobuf type, since nothing here crosses a process boundary.
package target

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Protocol identifies how a Target is addressed.
type Protocol uint8

const (
	// Local means Path is a plain filesystem path on this host.
	Local Protocol = iota
	// SSH means Path lives on Host, reached over ssh (optionally as User,
	// optionally on Port).
	SSH
)

// Target is a parsed target-side address.
type Target struct {
	Protocol Protocol
	User     string
	Host     string
	Port     uint16
	Path     string
}

// Parse parses raw into a Target. A colon that appears before any slash
// marks an SCP-style SSH spec ("[user@]host[:port]:path"); everything else
// is treated as a local path, matching rsync's own heuristic for
// distinguishing remote from local arguments.
func Parse(raw string) (*Target, error) {
	if raw == "" {
		return nil, errors.New("empty target")
	}
	if !looksLikeSCP(raw) {
		return &Target{Protocol: Local, Path: raw}, nil
	}
	return parseSCP(raw)
}

// looksLikeSCP reports whether raw has a colon before its first slash, the
// same test rsync and scp use to decide a path argument names a remote.
func looksLikeSCP(raw string) bool {
	for _, r := range raw {
		if r == ':' {
			return true
		}
		if r == '/' {
			return false
		}
	}
	return false
}

func parseSCP(raw string) (*Target, error) {
	var user string
	for i, r := range raw {
		if r == ':' {
			break
		}
		if r == '@' {
			if i == 0 {
				return nil, errors.New("empty user in target spec")
			}
			user = raw[:i]
			raw = raw[i+1:]
			break
		}
	}

	var host string
	for i, r := range raw {
		if r == ':' {
			if i == 0 {
				return nil, errors.New("empty host in target spec")
			}
			host = raw[:i]
			raw = raw[i+1:]
			break
		}
	}
	if host == "" {
		return nil, errors.New("no host present in target spec")
	}

	var port uint16
	for i, r := range raw {
		if r >= '0' && r <= '9' {
			continue
		}
		if r == ':' {
			p, err := strconv.ParseUint(raw[:i], 10, 16)
			if err != nil {
				return nil, errors.Errorf("invalid port in target spec: %q", raw[:i])
			}
			port = uint16(p)
			raw = raw[i+1:]
		}
		break
	}

	if raw == "" {
		return nil, errors.New("empty path in target spec")
	}

	return &Target{Protocol: SSH, User: user, Host: host, Port: port, Path: raw}, nil
}

// ParseHost parses a bare "[user@]host[:port]" spec, the form "-rsyncssh
// SRC HOST DIR" and a config file's "host" field take, with no path
// component (the path is supplied separately as the sync's target
// directory).
func ParseHost(raw string) (*Target, error) {
	if raw == "" {
		return nil, errors.New("empty host")
	}

	var user string
	for i, r := range raw {
		if r == '@' {
			if i == 0 {
				return nil, errors.New("empty user in host spec")
			}
			user = raw[:i]
			raw = raw[i+1:]
			break
		}
	}

	var host string
	var port uint16
	if idx := strings.IndexByte(raw, ':'); idx >= 0 {
		host = raw[:idx]
		p, err := strconv.ParseUint(raw[idx+1:], 10, 16)
		if err != nil {
			return nil, errors.Errorf("invalid port in host spec: %q", raw[idx+1:])
		}
		port = uint16(p)
	} else {
		host = raw
	}
	if host == "" {
		return nil, errors.New("empty host in host spec")
	}

	return &Target{Protocol: SSH, User: user, Host: host, Port: port}, nil
}

// Format renders a Target back into the SCP-style (or plain local) string
// form Parse accepts, so a Target built from discrete fields (e.g. from a
// config file's separate host/target fields) can be handed to rsync as one
// argument.
func (t *Target) Format() string {
	if t.Protocol == Local {
		return t.Path
	}
	host := t.Host
	if t.User != "" {
		host = fmt.Sprintf("%s@%s", t.User, host)
	}
	if t.Port != 0 {
		return fmt.Sprintf("%s:%d:%s", host, t.Port, t.Path)
	}
	return fmt.Sprintf("%s:%s", host, t.Path)
}

// WithPath returns a copy of t with Path replaced, used to address a
// specific subdirectory of the target while keeping its user/host/port.
func (t *Target) WithPath(path string) *Target {
	cp := *t
	cp.Path = path
	return &cp
}
