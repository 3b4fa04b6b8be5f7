package executor

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseResultFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "result.json")
	if err := os.WriteFile(path, []byte(`{"total":5,"passed":4,"failed":1,"skipped":0}`), 0o644); err != nil {
		t.Fatalf("write result: %v", err)
	}

	s, err := ParseResultFile(path)
	if err != nil {
		t.Fatalf("ParseResultFile: %v", err)
	}
	if s.Total != 5 || s.Passed != 4 || s.Failed != 1 || s.Skipped != 0 {
		t.Errorf("summary = %+v, want {5 4 1 0}", s)
	}
}

func TestParseResultFile_TotalDerived(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "result.json")
	if err := os.WriteFile(path, []byte(`{"passed":2,"failed":1,"skipped":1}`), 0o644); err != nil {
		t.Fatalf("write result: %v", err)
	}

	s, err := ParseResultFile(path)
	if err != nil {
		t.Fatalf("ParseResultFile: %v", err)
	}
	if s.Total != 4 {
		t.Errorf("Total = %d, want derived 4", s.Total)
	}
}

func TestParseResultFile_Missing(t *testing.T) {
	if _, err := ParseResultFile(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParseResultFile_Malformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "result.json")
	os.WriteFile(path, []byte(`{not json`), 0o644)

	if _, err := ParseResultFile(path); err == nil {
		t.Error("expected error for malformed file")
	}
}

func TestParseOutput(t *testing.T) {
	tests := []struct {
		name   string
		stdout string
		want   Summary
		found  bool
	}{
		{
			name:   "pytest summary",
			stdout: "....F\n3 passed, 1 failed, 2 skipped in 0.12s\n",
			want:   Summary{Total: 6, Passed: 3, Failed: 1, Skipped: 2},
			found:  true,
		},
		{
			name:   "playwright summary",
			stdout: "Running 5 tests\n  5 passed (3s)\n",
			want:   Summary{Total: 5, Passed: 5},
			found:  true,
		},
		{
			name:   "errors counted as failures",
			stdout: "1 passed, 2 errors in 0.3s\n",
			want:   Summary{Total: 3, Passed: 1, Failed: 2},
			found:  true,
		},
		{
			name:   "last summary line wins",
			stdout: "1 passed\nre-run\n4 passed, 1 failed\n",
			want:   Summary{Total: 5, Passed: 4, Failed: 1},
			found:  true,
		},
		{
			name:   "no counts",
			stdout: "Traceback (most recent call last):\n  ValueError\n",
			want:   Summary{},
			found:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, found := ParseOutput(tt.stdout)
			if found != tt.found {
				t.Fatalf("found = %v, want %v", found, tt.found)
			}
			if got != tt.want {
				t.Errorf("summary = %+v, want %+v", got, tt.want)
			}
		})
	}
}
