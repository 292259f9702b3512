package security

import (
	"errors"
	"strings"
	"testing"
)

func TestCheckIdentifier_WhenValid_ShouldReturnNil(t *testing.T) {
	for _, id := range []string{"0_abc", "1_ab12CD34", "123_x"} {
		if err := CheckIdentifier(id); err != nil {
			t.Errorf("CheckIdentifier(%q): unexpected error %v", id, err)
		}
	}
}

func TestCheckIdentifier_ShouldRejectUnsafeInput(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"empty", "", ErrEmptyIdentifier},
		{"too long", "1_" + strings.Repeat("a", MaxIdentifierLength), ErrIdentifierTooLong},
		{"dot dot slash", "0_abc/../x", ErrPathTraversal},
		{"dot dot", "0_a..b", ErrPathTraversal},
		{"backslash", `0_a\b`, ErrPathTraversal},
		{"backtick", "0_a`id`", ErrShellMetacharacter},
		{"semicolon", "0_a;rm", ErrShellMetacharacter},
		{"pipe", "0_a|cat", ErrShellMetacharacter},
		{"ampersand", "0_a&b", ErrShellMetacharacter},
		{"dollar", "0_$HOME", ErrShellMetacharacter},
		{"redirect", "0_a>b", ErrShellMetacharacter},
		{"quote", `0_a"b`, ErrShellMetacharacter},
		{"space", "bad id", ErrMalformedIdentifier},
		{"missing prefix", "abc", ErrMalformedIdentifier},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckIdentifier(tt.input)
			if !errors.Is(err, tt.want) {
				t.Errorf("CheckIdentifier(%q): want %v, got %v", tt.input, tt.want, err)
			}
		})
	}
}

func TestCheckIdentifier_TraversalWithinLengthBound_ShouldStillBeRejected(t *testing.T) {
	// Short enough for the length check, so only the security checks can catch it.
	if err := CheckIdentifier("../"); err == nil {
		t.Fatal("expected ../ to be rejected")
	}
}
