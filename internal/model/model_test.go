package model

import (
	"path/filepath"
	"testing"
	"time"
)

func TestPlacementPath_SanitizesFileName(t *testing.T) {
	comp := NewCompetencia(2025, time.July)
	tests := []struct {
		input string
		want  string
	}{
		{"NFSe_123.xml", "NFSe_123.xml"},
		{"file:with:colons.xml", "file_with_colons.xml"},
		{"file/with\\slashes.xml", "file_with_slashes.xml"},
		{"trailing dots...", "trailing dots"},
		{"  surrounding   spaces ", "surrounding spaces"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := filepath.Base(PlacementPath(comp, "52399222000122", tt.input))
			if got != tt.want {
				t.Errorf("PlacementPath(%q) file name = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestPlacementPath(t *testing.T) {
	comp := NewCompetencia(2025, time.July)
	got := PlacementPath(comp, "52399222000122", "NFSe_1.xml")
	want := filepath.Join("2025", "072025", "52399222000122", "NFSe_1.xml")
	if got != want {
		t.Errorf("PlacementPath() = %q, want %q", got, want)
	}

	// Deterministic across calls and CNPJ spellings.
	if again := PlacementPath(comp, "52.399.222/0001-22", "NFSe_1.xml"); again != want {
		t.Errorf("formatted CNPJ gave %q, want %q", again, want)
	}
}

func TestArtifact_Name(t *testing.T) {
	comp := NewCompetencia(2025, time.January)

	tests := []struct {
		name     string
		fileName string
		sourceID string
		want     string
	}{
		{"original filename", "nota 10.xml", "KEY", "nota 10.xml"},
		{"derived from source", "", "NFS3304557", "NFS3304557.xml"},
		{"source already xml", "", "abc.XML", "abc.XML"},
		{"nothing known", "", "", "NFSe.xml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewArtifact([]byte("<x/>"), "1", comp, tt.sourceID, tt.fileName)
			if got := a.Name(); got != tt.want {
				t.Errorf("Name() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPathConfig_Resolve(t *testing.T) {
	cfg := &PathConfig{DownloadsPath: "/srv/nfse"}
	a := NewArtifact(nil, "52399222000122", NewCompetencia(2025, time.August), "", "a.xml")

	want := filepath.Join("/srv/nfse", "2025", "082025", "52399222000122", "a.xml")
	if got := cfg.Resolve(a); got != want {
		t.Errorf("Resolve() = %q, want %q", got, want)
	}
}

func TestParseCompetencia(t *testing.T) {
	tests := []struct {
		input   string
		want    Competencia
		wantErr bool
	}{
		{"2025-07", NewCompetencia(2025, time.July), false},
		{"2025-07-01", NewCompetencia(2025, time.July), false},
		{"07/2025", NewCompetencia(2025, time.July), false},
		{"072025", NewCompetencia(2025, time.July), false},
		{"2025-12-31T23:59:59-03:00", NewCompetencia(2025, time.December), false},
		{"july", Competencia{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseCompetencia(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseCompetencia(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestVerdict_String(t *testing.T) {
	tests := []struct {
		verdict Verdict
		want    string
	}{
		{VerdictNew, "new"},
		{VerdictDuplicate, "duplicate"},
		{VerdictConflict, "conflict"},
	}

	for _, tt := range tests {
		if got := tt.verdict.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
