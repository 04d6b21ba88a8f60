package utils_test

import (
	"testing"

	"github.com/raysh454/scanqueue/internal/utils"
)

// ─── URLTools ──────────────────────────────────────────────────────────

func TestNewURLTools_Normalizes(t *testing.T) {
	t.Parallel()
	u, err := utils.NewURLTools("HTTP://Example.COM:80/path/#frag")
	if err != nil {
		t.Fatalf("NewURLTools: %v", err)
	}
	if got := u.URL.String(); got != "http://example.com/path" {
		t.Errorf("normalized url = %q", got)
	}
}

func TestNewURLTools_InvalidURL(t *testing.T) {
	t.Parallel()
	if _, err := utils.NewURLTools("http://[::1"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSameHost(t *testing.T) {
	t.Parallel()
	tests := []struct {
		a, b string
		want bool
	}{
		{"https://example.com/a", "https://EXAMPLE.com:443/b", true},
		{"http://example.com", "http://example.com:8080", false},
		{"http://example.com", "http://cdn.example.com", false},
		{"http://localhost:3000/x", "http://localhost:3000/y?z=1", true},
	}
	for _, tt := range tests {
		a, err := utils.NewURLTools(tt.a)
		if err != nil {
			t.Fatal(err)
		}
		b, err := utils.NewURLTools(tt.b)
		if err != nil {
			t.Fatal(err)
		}
		if got := a.SameHost(b); got != tt.want {
			t.Errorf("SameHost(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
