package htmlsanitize_test

import (
	"testing"

	"github.com/dalemusser/fieldauth/internal/app/system/htmlsanitize"
)

func TestPlainText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"plain", "Ada Lovelace", "Ada Lovelace"},
		{"ampersand survives", "Tom & Jerry", "Tom & Jerry"},
		{"tags stripped", "<b>Ada</b> Lovelace", "Ada Lovelace"},
		{"script removed", "Ada<script>alert(1)</script>", "Ada"},
		{"trimmed", "  Ada  ", "Ada"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := htmlsanitize.PlainText(tt.input); got != tt.want {
				t.Errorf("PlainText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestIsPlainText(t *testing.T) {
	if !htmlsanitize.IsPlainText("Ada Lovelace") {
		t.Error("expected plain name to be plain text")
	}
	if htmlsanitize.IsPlainText("<i>Ada</i>") {
		t.Error("expected markup to be detected")
	}
}
