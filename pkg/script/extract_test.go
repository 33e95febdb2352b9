package script

import (
	"errors"
	"strings"
	"testing"
)

func TestExtractGoFence(t *testing.T) {
	t.Parallel()
	completion := "Here is the program:\n```go\npackage main\n\nfunc main() {}\n```\nDone."
	got, err := Extract(completion)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !strings.HasPrefix(got, "package main") {
		t.Fatalf("unexpected snippet: %q", got)
	}
	if strings.Contains(got, "```") {
		t.Fatalf("fence leaked into snippet: %q", got)
	}
}

func TestExtractBareFence(t *testing.T) {
	t.Parallel()
	got, err := Extract("```\npackage main\n```")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if got != "package main" {
		t.Fatalf("unexpected snippet: %q", got)
	}
}

func TestExtractFirstBlockWins(t *testing.T) {
	t.Parallel()
	completion := "```go\npackage main // first\n```\n```go\npackage main // second\n```"
	got, err := Extract(completion)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !strings.Contains(got, "first") || strings.Contains(got, "second") {
		t.Fatalf("expected first block only: %q", got)
	}
}

func TestExtractGolangTag(t *testing.T) {
	t.Parallel()
	got, err := Extract("```golang\npackage main\n```")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if got != "package main" {
		t.Fatalf("unexpected snippet: %q", got)
	}
}

func TestExtractFailures(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name       string
		completion string
	}{
		{"no fence", "I cannot produce code for that."},
		{"unterminated", "```go\npackage main"},
		{"empty block", "```go\n\n```"},
		{"whitespace block", "```\n   \n```"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Extract(tc.completion); !errors.Is(err, ErrNoScript) {
				t.Fatalf("expected ErrNoScript, got %v", err)
			}
		})
	}
}
