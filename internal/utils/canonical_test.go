package utils

import (
	"errors"
	"testing"
)

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		in   string
		opts CanonicalizeOptions
		want string
	}{
		{
			in:   "HTTP://Example.COM:80/foo/../bar/?b=2&a=1#frag",
			opts: CanonicalizeOptions{},
			want: "http://example.com/bar/?a=1&b=2",
		},
		{
			in:   "https://example.com:443/index.html#section",
			opts: CanonicalizeOptions{},
			want: "https://example.com/index.html",
		},
		{
			in:   "https://user:pw@example.com:8443/a?z=2&z=1",
			opts: CanonicalizeOptions{},
			want: "https://example.com:8443/a?z=1&z=2",
		},
		{
			in:   "https://例え.テスト/a",
			opts: CanonicalizeOptions{},
			// punycode-encoded host
			want: "https://xn--r8jz45g.xn--zckzah/a",
		},
		{
			in:   "https://example.com/foo/",
			opts: CanonicalizeOptions{StripTrailingSlash: true},
			want: "https://example.com/foo",
		},
		{
			in:   "https://example.com/",
			opts: CanonicalizeOptions{StripTrailingSlash: true},
			want: "https://example.com/",
		},
		{
			in:   "http://shop.example/search/?q=test#results",
			opts: CanonicalizeOptions{DropQuery: true, StripTrailingSlash: true},
			want: "http://shop.example/search",
		},
		{
			in:   "http://shop.example",
			opts: CanonicalizeOptions{DropQuery: true},
			want: "http://shop.example/",
		},
	}

	for _, tt := range tests {
		got, err := Canonicalize(tt.in, tt.opts)
		if err != nil {
			t.Fatalf("canonicalize(%q) error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("canonicalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCanonicalize_Rejects(t *testing.T) {
	if _, err := Canonicalize("   ", CanonicalizeOptions{}); !errors.Is(err, ErrEmptyURL) {
		t.Errorf("blank input: got %v, want ErrEmptyURL", err)
	}
	if _, err := Canonicalize("/relative/path", CanonicalizeOptions{}); !errors.Is(err, ErrMissingHost) {
		t.Errorf("relative input: got %v, want ErrMissingHost", err)
	}
}
