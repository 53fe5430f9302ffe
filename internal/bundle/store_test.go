package bundle

import "testing"

func TestCreateListGetDelete(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if err := Create("daily", []string{
		"3000=4000,4001",
		"3001=4002",
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	all, err := LoadAll()
	if err != nil {
		t.Fatalf("load all: %v", err)
	}
	if len(all) != 1 || all[0].Name != "daily" {
		t.Fatalf("unexpected bundles: %+v", all)
	}

	got, err := Get("daily")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Tunnels) != 2 {
		t.Fatalf("expected two tunnels, got %d", len(got.Tunnels))
	}

	specs, err := Specs("daily")
	if err != nil {
		t.Fatalf("specs: %v", err)
	}
	if len(specs) != 2 || len(specs[0].Remotes) != 2 {
		t.Fatalf("unexpected resolved specs: %+v", specs)
	}

	if err := Delete("daily"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	all, err = LoadAll()
	if err != nil {
		t.Fatalf("load after delete: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected no bundles, got %d", len(all))
	}
}

func TestCreateValidatesInput(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	if err := Create("", []string{"3000=4000"}); err == nil {
		t.Fatal("expected error for empty name")
	}
	if err := Create("x", nil); err == nil {
		t.Fatal("expected error for empty tunnels")
	}
	if err := Create("x", []string{"not-a-spec"}); err == nil {
		t.Fatal("expected error for malformed tunnel spec")
	}
}

func TestGetUnknownBundle(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	if _, err := Get("missing"); err == nil {
		t.Fatal("expected error for unknown bundle")
	}
}
