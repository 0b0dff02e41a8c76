package version

import "testing"

func TestShortRevision(t *testing.T) {
	tests := []struct {
		name  string
		rev   string
		dirty bool
		want  string
	}{
		{"long hash", "0123456789abcdef", false, "0123456"},
		{"short hash", "abc", false, "abc"},
		{"dirty tree", "0123456789abcdef", true, "0123456-dirty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shortRevision(tt.rev, tt.dirty); got != tt.want {
				t.Errorf("shortRevision() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFullNotEmpty(t *testing.T) {
	if Version == "" || Commit == "" {
		t.Fatalf("Version/Commit should be populated by init, got %q/%q", Version, Commit)
	}
	if Full() == "" {
		t.Error("Full() returned empty string")
	}
}
