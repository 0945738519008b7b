package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestVersionFromFile(t *testing.T) {
	tests := []struct {
		name    string
		want    int64
		wantErr bool
	}{
		{"001_ledger_snapshots.up.sql", 1, false},
		{"012_x.up.sql", 12, false},
		{"nounderscore.sql", 0, true},
		{"abc_x.up.sql", 0, true},
	}
	for _, tc := range tests {
		got, err := versionFromFile(tc.name)
		if (err != nil) != tc.wantErr {
			t.Errorf("%s: err = %v, wantErr %v", tc.name, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("%s: got %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestUpMigrations_skipsDownFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"002_b.up.sql", "001_a.up.sql", "001_a.down.sql", "README.md"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("--"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	files, err := upMigrations(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 || files[0] != "001_a.up.sql" || files[1] != "002_b.up.sql" {
		t.Fatalf("unexpected files %v", files)
	}
}

func TestUpMigrations_repositoryFilesParse(t *testing.T) {
	files, err := upMigrations(filepath.Join("..", "..", "migrations"))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) == 0 {
		t.Fatal("expected migrations in the repository")
	}
	for _, f := range files {
		if _, err := versionFromFile(f); err != nil {
			t.Errorf("%s: %v", f, err)
		}
	}
}
