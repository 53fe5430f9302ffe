package cli

import (
	"io"
	"os"
	"strings"
	"testing"
)

func TestBundleCreateListShowDeleteLifecycle(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cmd := NewRootCommand()
	cmd.SetArgs([]string{"bundle", "create", "daily", "3000=4000", "3001=4001"})
	if _, err := captureStdout(func() error { return cmd.Execute() }); err != nil {
		t.Fatalf("create bundle: %v", err)
	}

	cmd = NewRootCommand()
	cmd.SetArgs([]string{"bundle", "list"})
	out, err := captureStdout(func() error { return cmd.Execute() })
	if err != nil {
		t.Fatalf("list bundle: %v", err)
	}
	if !strings.Contains(out, "daily") {
		t.Fatalf("expected bundle in list output, got: %s", out)
	}

	cmd = NewRootCommand()
	cmd.SetArgs([]string{"bundle", "show", "daily"})
	out, err = captureStdout(func() error { return cmd.Execute() })
	if err != nil {
		t.Fatalf("show bundle: %v", err)
	}
	if !strings.Contains(out, "3000=4000") {
		t.Fatalf("expected tunnel spec in show output, got: %s", out)
	}

	cmd = NewRootCommand()
	cmd.SetArgs([]string{"bundle", "delete", "daily"})
	if _, err := captureStdout(func() error { return cmd.Execute() }); err != nil {
		t.Fatalf("delete bundle: %v", err)
	}
}

func TestBundleCreateRejectsMalformedSpec(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cmd := NewRootCommand()
	cmd.SetArgs([]string{"bundle", "create", "broken", "not-a-spec"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error for malformed tunnel spec")
	}
}

func TestDiagnosticsReportsDuplicateLocalBind(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cmd := NewRootCommand()
	cmd.SetArgs([]string{"diagnostics", "--tunnel", "3000=4000", "--tunnel", "3000=4001"})
	out, err := captureStdout(func() error { return cmd.Execute() })
	if err == nil {
		t.Fatal("expected high-severity diagnostics to return an error")
	}
	if !strings.Contains(out, "duplicate-local-bind") {
		t.Fatalf("expected duplicate-local-bind in output, got: %s", out)
	}
}

func TestDiagnosticsCleanConfig(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cmd := NewRootCommand()
	cmd.SetArgs([]string{"diagnostics", "--tunnel", "19241=19242"})
	out, err := captureStdout(func() error { return cmd.Execute() })
	if err != nil {
		t.Fatalf("diagnostics: %v", err)
	}
	if !strings.Contains(out, "no issues found") {
		t.Fatalf("expected clean report, got: %s", out)
	}
}

func TestTunnelSubcommandsFailWithoutAControlSocket(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cmd := NewRootCommand()
	cmd.SetArgs([]string{"tunnel", "status", "--control", "/nonexistent/control.sock"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected dial error when no control server is listening")
	}
}

func captureStdout(fn func() error) (string, error) {
	orig := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		return "", err
	}
	os.Stdout = w
	runErr := fn()
	_ = w.Close()
	os.Stdout = orig
	b, readErr := io.ReadAll(r)
	if readErr != nil {
		return "", readErr
	}
	return string(b), runErr
}
