// Package tunnelspec parses the command-line and config-file tunnel
// definition grammar:
//
//	local=remote(,remote)*[option=value(,option=value)*]
//
// Grounded on original_source src/tunnel/parser.rs, which hand-writes the
// equivalent grammar with nom combinators. Go has no parser-combinator
// library anywhere in the example corpus, so this is a deliberately
// hand-rolled scanner in the same spirit as an ssh_config line parser:
// split on fixed delimiters, validate each field, and produce a precise
// error.
package tunnelspec

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/relaymesh/plexy/internal/lbstrategy"
	"github.com/relaymesh/plexy/internal/socketspec"
)

// Spec is one fully-parsed tunnel definition, ready to hand to the registry
// and the proxy listener.
type Spec struct {
	Local       socketspec.Spec
	Remotes     []socketspec.Spec
	Strategy    lbstrategy.Strategy
	HasStrategy bool
	// Retries is the client-level cross-remote retry budget (the "retries"
	// option): how many different remotes one client connection will try
	// before giving up.
	Retries    int
	HasRetries bool
	// Errors is the per-remote errors_till_dead budget (the "errors"
	// option): how many consecutive failures a single remote tolerates
	// before it is moved to the dead set. Independent of Retries.
	Errors        int
	HasErrors     bool
	Timeout       time.Duration
	HasTimeout    bool
	CheckInterval time.Duration
	HasCheck      bool
	RemoteTLS     bool
	HasRemoteTLS  bool
}

// ParseError reports a malformed tunnel spec string.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("tunnel spec %q: %s", e.Input, e.Reason)
}

// Parse parses one tunnel-spec string. Options, if present, must be the
// trailing bracketed segment; everything before it is "local=remote,...".
func Parse(text string) (Spec, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Spec{}, &ParseError{Input: text, Reason: "empty tunnel spec"}
	}

	body, optionsText, err := splitOptions(text)
	if err != nil {
		return Spec{}, &ParseError{Input: text, Reason: err.Error()}
	}

	eq := strings.IndexByte(body, '=')
	if eq < 0 {
		return Spec{}, &ParseError{Input: text, Reason: "missing '=' between local and remotes"}
	}
	localText, remotesText := body[:eq], body[eq+1:]
	if remotesText == "" {
		return Spec{}, &ParseError{Input: text, Reason: "at least one remote is required"}
	}

	local, err := socketspec.Parse(localText)
	if err != nil {
		return Spec{}, &ParseError{Input: text, Reason: fmt.Sprintf("local: %v", err)}
	}

	var remotes []socketspec.Spec
	for _, part := range strings.Split(remotesText, ",") {
		r, err := socketspec.Parse(part)
		if err != nil {
			return Spec{}, &ParseError{Input: text, Reason: fmt.Sprintf("remote %q: %v", part, err)}
		}
		remotes = append(remotes, r)
	}

	spec := Spec{Local: local, Remotes: remotes}
	if optionsText != "" {
		if err := spec.applyOptions(optionsText); err != nil {
			return Spec{}, &ParseError{Input: text, Reason: err.Error()}
		}
	}
	return spec, nil
}

// splitOptions separates the "local=remote,..." body from a trailing
// "[k=v,k=v]" options segment, if present.
func splitOptions(text string) (body, options string, err error) {
	open := strings.IndexByte(text, '[')
	if open < 0 {
		return text, "", nil
	}
	if !strings.HasSuffix(text, "]") {
		return "", "", fmt.Errorf("unterminated options segment")
	}
	return text[:open], text[open+1 : len(text)-1], nil
}

// applyOptions parses "key=value" pairs separated by commas. Unknown keys
// are rejected so typos fail fast instead of silently doing nothing.
func (s *Spec) applyOptions(text string) error {
	for _, pair := range strings.Split(text, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		eq := strings.IndexByte(pair, '=')
		if eq < 0 {
			return fmt.Errorf("malformed option %q, expected key=value", pair)
		}
		key := strings.ToLower(strings.TrimSpace(pair[:eq]))
		value := strings.TrimSpace(pair[eq+1:])
		switch key {
		case "strategy":
			strat, err := lbstrategy.Parse(value)
			if err != nil {
				return err
			}
			s.Strategy, s.HasStrategy = strat, true
		case "retries":
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return fmt.Errorf("invalid retries value %q", value)
			}
			s.Retries, s.HasRetries = n, true
		case "errors":
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return fmt.Errorf("invalid errors value %q", value)
			}
			s.Errors, s.HasErrors = n, true
		case "timeout":
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid timeout value %q: %w", value, err)
			}
			s.Timeout, s.HasTimeout = d, true
		case "check-interval":
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid check-interval value %q: %w", value, err)
			}
			s.CheckInterval, s.HasCheck = d, true
		case "remote-tls":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("invalid remote-tls value %q", value)
			}
			s.RemoteTLS, s.HasRemoteTLS = b, true
		default:
			return fmt.Errorf("unknown tunnel option %q", key)
		}
	}
	return nil
}
