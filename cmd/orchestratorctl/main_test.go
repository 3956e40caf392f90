package main

import (
	"bytes"
	"strings"
	"testing"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestNext_PrintsCount(t *testing.T) {
	out, err := run(t, "next", "*/5 * * * *", "--from", "2026-10-19T10:07:30Z", "-n", "3")
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want 3: %q", len(lines), out)
	}
	for i, want := range []string{"2026-10-19T10:10:00Z", "2026-10-19T10:15:00Z", "2026-10-19T10:20:00Z"} {
		if !strings.HasPrefix(lines[i], want) {
			t.Errorf("line %d = %q, want prefix %s", i, lines[i], want)
		}
	}
}

func TestNext_HonoursTimezone(t *testing.T) {
	out, err := run(t, "next", "0 9 * * *", "--tz", "Asia/Tokyo", "--from", "2026-10-19T10:00:00Z")
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if !strings.HasPrefix(out, "2026-10-20T00:00:00Z") {
		t.Errorf("out = %q", out)
	}
}

func TestPrev(t *testing.T) {
	out, err := run(t, "prev", "@daily", "--at", "2026-10-19T10:00:00Z")
	if err != nil {
		t.Fatalf("prev: %v", err)
	}
	if !strings.HasPrefix(out, "2026-10-19T00:00:00Z") {
		t.Errorf("out = %q", out)
	}
}

func TestValidate(t *testing.T) {
	if out, err := run(t, "validate", "*/5 * * * *"); err != nil || strings.TrimSpace(out) != "ok" {
		t.Errorf("validate = %q, %v", out, err)
	}
	if _, err := run(t, "validate", "0 0 30 2 *"); err == nil {
		t.Error("expected error for an expression that never fires")
	}
	if _, err := run(t, "validate", "* * * * *", "--tz", "Mars/Olympus"); err == nil {
		t.Error("expected error for unknown timezone")
	}
}

func TestBadReferenceTime(t *testing.T) {
	if _, err := run(t, "next", "* * * * *", "--from", "yesterday"); err == nil {
		t.Error("expected error for malformed --from")
	}
}
