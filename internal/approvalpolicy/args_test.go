package approvalpolicy

import (
	"errors"
	"testing"
)

func TestSanitizeArgumentRejectsShellMetacharacters(t *testing.T) {
	if _, err := SanitizeArgument("foo; rm -rf /"); err == nil {
		t.Fatal("expected rejection of shell metacharacters")
	}
}

func TestSanitizeArgumentAllowsLeadingDash(t *testing.T) {
	out, err := SanitizeArgument("--verbose")
	if err != nil {
		t.Fatalf("SanitizeArgument() error = %v", err)
	}
	if out != "--verbose" {
		t.Errorf("got %q, want --verbose", out)
	}
}

func TestSanitizeArgumentRejectsEmpty(t *testing.T) {
	if _, err := SanitizeArgument(""); err != ErrEmptyArgument {
		t.Fatalf("expected ErrEmptyArgument, got %v", err)
	}
}

func TestSanitizeArgumentsReportsFailingIndex(t *testing.T) {
	_, err := SanitizeArguments([]string{"--verbose", "ok", "bad`cmd`"})
	var argErr *ArgumentError
	if !errors.As(err, &argErr) {
		t.Fatalf("expected *ArgumentError, got %v", err)
	}
	if argErr.Index != 2 {
		t.Errorf("got index %d, want 2", argErr.Index)
	}
}

func TestSanitizeArgumentsEmptySliceReturnsEmpty(t *testing.T) {
	out, err := SanitizeArguments(nil)
	if err != nil {
		t.Fatalf("SanitizeArguments() error = %v", err)
	}
	if out != nil {
		t.Errorf("got %v, want nil", out)
	}
}
