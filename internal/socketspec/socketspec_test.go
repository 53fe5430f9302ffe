package socketspec

import "testing"

func TestParseBarePort(t *testing.T) {
	s, err := Parse("3333")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Host() != "127.0.0.1" || s.Port() != 3333 {
		t.Fatalf("got %s, want 127.0.0.1:3333", s.Display())
	}
}

func TestParseIPv4(t *testing.T) {
	s, err := Parse("192.168.1.5:4444")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Host() != "192.168.1.5" || s.Port() != 4444 {
		t.Fatalf("unexpected spec: %+v", s)
	}
}

func TestParseHostname(t *testing.T) {
	s, err := Parse("some.remote.host.net:3333")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Host() != "some.remote.host.net" {
		t.Fatalf("unexpected host: %s", s.Host())
	}
}

func TestParseHostnameRejectsTrailingDash(t *testing.T) {
	if _, err := Parse("neplatne-:80"); err == nil {
		t.Fatal("expected error for trailing dash hostname")
	}
}

func TestParseIPv6(t *testing.T) {
	s, err := Parse("[::1]:3000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Host() != "::1" || s.Port() != 3000 {
		t.Fatalf("unexpected spec: %+v", s)
	}
	if s.Display() != "[::1]:3000" {
		t.Fatalf("expected bracketed display, got %s", s.Display())
	}
}

func TestParseEmpty(t *testing.T) {
	if _, err := Parse(""); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestParseBadPort(t *testing.T) {
	if _, err := Parse("localhost:99999"); err == nil {
		t.Fatal("expected error for out-of-range port")
	}
}

func TestRoundTripCanonical(t *testing.T) {
	cases := []string{"127.0.0.1:80", "[::1]:3000", "some.host.example:22"}
	for _, c := range cases {
		s, err := Parse(c)
		if err != nil {
			t.Fatalf("parse(%q): %v", c, err)
		}
		again, err := Parse(s.Display())
		if err != nil {
			t.Fatalf("parse(display(%q)): %v", c, err)
		}
		if again != s {
			t.Fatalf("round-trip mismatch for %q: %+v != %+v", c, again, s)
		}
	}
}

func TestSpecIsMapKey(t *testing.T) {
	m := map[Spec]int{}
	a, _ := Parse("3000")
	b, _ := Parse("127.0.0.1:3000")
	m[a] = 1
	if m[b] != 1 {
		t.Fatal("equal specs should hash identically")
	}
}
