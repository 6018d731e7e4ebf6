package main

import (
	"bufio"
	"strings"
	"testing"
)

func TestPromptReturnsDefaultOnEmptyLine(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("\n"))
	if got := prompt(r, "cores", "auto"); got != "auto" {
		t.Fatalf("expected default %q, got %q", "auto", got)
	}
}

func TestPromptReturnsTrimmedInput(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("  my-key  \n"))
	if got := prompt(r, "key", ""); got != "my-key" {
		t.Fatalf("expected trimmed input, got %q", got)
	}
}

func TestBenchmarkCmdParsesFlagsWithoutError(t *testing.T) {
	if err := benchmarkCmd([]string{"--cores=2", "--hash-mb=64"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
