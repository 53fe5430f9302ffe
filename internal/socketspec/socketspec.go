// Package socketspec parses and formats the (host, port) addresses used
// throughout plexy to name tunnels and remotes.
package socketspec

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/relaymesh/plexy/internal/util"
)

// DefaultHost is substituted when a tunnel or remote is specified as a bare
// port number.
const DefaultHost = "127.0.0.1"

// Spec is an immutable, comparable (host, port) pair. The zero value is not
// a valid spec. Spec is safe to use directly as a map key.
type Spec struct {
	host string
	port uint16
}

// ParseError reports a malformed socket spec along with the offending text.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("socket spec %q: %s", e.Input, e.Reason)
}

// New builds a Spec from already-validated parts. It does not re-validate
// host syntax; callers that accept untrusted text should use Parse instead.
func New(host string, port uint16) Spec {
	return Spec{host: host, port: port}
}

// Parse accepts any of:
//
//	<port>              -> 127.0.0.1:<port>
//	<ipv4>:<port>
//	<hostname>:<port>    hostname starts with a letter, then letters/digits/./-,
//	                     and must not end in '.' or '-'
//	[<ipv6>]:<port>
func Parse(text string) (Spec, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Spec{}, &ParseError{Input: text, Reason: "empty input"}
	}

	// Bare port: no colon at all.
	if !strings.Contains(text, ":") {
		port, err := parsePort(text)
		if err != nil {
			return Spec{}, &ParseError{Input: text, Reason: err.Error()}
		}
		return Spec{host: DefaultHost, port: port}, nil
	}

	if strings.HasPrefix(text, "[") {
		end := strings.Index(text, "]")
		if end < 0 || end+1 >= len(text) || text[end+1] != ':' {
			return Spec{}, &ParseError{Input: text, Reason: "malformed bracketed IPv6 host"}
		}
		host := text[1:end]
		if net.ParseIP(host) == nil {
			return Spec{}, &ParseError{Input: text, Reason: "invalid IPv6 literal"}
		}
		port, err := parsePort(text[end+2:])
		if err != nil {
			return Spec{}, &ParseError{Input: text, Reason: err.Error()}
		}
		return Spec{host: host, port: port}, nil
	}

	idx := strings.LastIndex(text, ":")
	host, portText := text[:idx], text[idx+1:]
	if host == "" {
		return Spec{}, &ParseError{Input: text, Reason: "missing host"}
	}
	if !validHostname(host) && net.ParseIP(host) == nil {
		return Spec{}, &ParseError{Input: text, Reason: "malformed host"}
	}
	port, err := parsePort(portText)
	if err != nil {
		return Spec{}, &ParseError{Input: text, Reason: err.Error()}
	}
	return Spec{host: host, port: port}, nil
}

func parsePort(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid port number %q", s)
	}
	if err := util.ValidatePort(int(n)); err != nil {
		return 0, err
	}
	return uint16(n), nil
}

// validHostname checks the hostname grammar: starts with a letter,
// contains only letters/digits/'.'/'-', and does not end with '-' or '.'.
func validHostname(h string) bool {
	if h == "" {
		return false
	}
	first := h[0]
	if !((first >= 'a' && first <= 'z') || (first >= 'A' && first <= 'Z')) {
		return false
	}
	for i := 0; i < len(h); i++ {
		c := h[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '.' || c == '-':
		default:
			return false
		}
	}
	last := h[len(h)-1]
	return last != '-' && last != '.'
}

// Display renders the canonical text form, bracketing IPv6 literals.
func (s Spec) Display() string {
	if ip := net.ParseIP(s.host); ip != nil && strings.Contains(s.host, ":") {
		return fmt.Sprintf("[%s]:%d", s.host, s.port)
	}
	return fmt.Sprintf("%s:%d", s.host, s.port)
}

// String satisfies fmt.Stringer so Specs print naturally in logs and tests.
func (s Spec) String() string { return s.Display() }

// Host returns the host component.
func (s Spec) Host() string { return s.host }

// Port returns the port component.
func (s Spec) Port() uint16 { return s.port }

// AsAddressTuple returns (host, port) for use with net.JoinHostPort and
// friends.
func (s Spec) AsAddressTuple() (string, uint16) { return s.host, s.port }

// Address returns a net.Dial/net.Listen compatible "host:port" string,
// bracketing IPv6 literals via net.JoinHostPort.
func (s Spec) Address() string {
	return net.JoinHostPort(s.host, strconv.Itoa(int(s.port)))
}
