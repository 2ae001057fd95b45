package migrations

import (
	"io/fs"
	"regexp"
	"strings"
	"testing"
)

var fileRe = regexp.MustCompile(`^(\d{5})_[a-z0-9_]+\.sql$`)

func TestMigrationsAreWellFormed(t *testing.T) {
	entries, err := fs.ReadDir(FS, ".")
	if err != nil {
		t.Fatalf("read embedded dir: %v", err)
	}
	if len(entries) == 0 {
		t.Fatalf("expected embedded migrations")
	}
	seen := map[string]string{}
	for _, e := range entries {
		name := e.Name()
		m := fileRe.FindStringSubmatch(name)
		if m == nil {
			t.Fatalf("invalid migration filename %q", name)
		}
		if prev, ok := seen[m[1]]; ok {
			t.Fatalf("duplicate version %s in %q and %q", m[1], prev, name)
		}
		seen[m[1]] = name

		data, err := fs.ReadFile(FS, name)
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		txt := string(data)
		if !strings.Contains(txt, "-- +goose Up") || !strings.Contains(txt, "-- +goose Down") {
			t.Fatalf("migration %q missing goose annotations", name)
		}
	}
}

func TestPendingUniquenessIndexesExist(t *testing.T) {
	data, err := fs.ReadFile(FS, "00002_negotiations.sql")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	txt := string(data)
	for _, idx := range []string{"negotiations_pending_requested_uq", "negotiations_pending_offered_uq"} {
		if !strings.Contains(txt, idx) {
			t.Fatalf("expected index %s", idx)
		}
	}
}
