package config

import (
	"os"
	"path/filepath"
	"testing"
)

// TestDefaultValidates tests that the default parameter set is legal.
func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}

// TestValidate tests the rejection rules.
func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Params)
		wantErr bool
	}{
		{"defaults", func(*Params) {}, false},
		{"negative maxreads", func(p *Params) { p.MaxReads = -1 }, true},
		{"negative maxfuturevalues", func(p *Params) { p.MaxFutureValues = -2 }, true},
		{"fairness without enabledcount", func(p *Params) { p.FairWindow = 10; p.EnabledCount = 0 }, true},
		{"verbose out of range", func(p *Params) { p.Verbose = 3 }, true},
		{"fairness configured", func(p *Params) { p.FairWindow = 10; p.EnabledCount = 2 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Default()
			tt.mutate(&p)
			err := p.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// TestLoad tests yaml loading over defaults.
func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mcheck.yaml")
	content := "maxreads: 17\nbound: 5000\nverbose: 2\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if p.MaxReads != 17 || p.Bound != 5000 || p.Verbose != 2 {
		t.Errorf("loaded params = %+v", p)
	}
	// Unspecified fields keep their defaults.
	if p.MaxFutureDelay != Default().MaxFutureDelay {
		t.Errorf("MaxFutureDelay = %d, want default %d", p.MaxFutureDelay, Default().MaxFutureDelay)
	}
}

// TestLoadMissingFile tests the wrapped error path.
func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Load of a missing file succeeded")
	}
}

// TestLoadInvalid tests that a file failing validation is rejected.
func TestLoadInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("verbose: 9\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load of an invalid config succeeded")
	}
}
