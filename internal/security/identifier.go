package security

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// MaxIdentifierLength bounds resource identifiers such as media entry IDs.
const MaxIdentifierLength = 64

// IdentifierPattern is the shape every resource identifier must have, e.g. "0_ab12cd34".
var IdentifierPattern = regexp.MustCompile(`^[0-9]+_[A-Za-z0-9]+$`)

// Sentinel errors returned (wrapped) by CheckIdentifier.
var (
	ErrEmptyIdentifier     = errors.New("identifier must not be empty")
	ErrIdentifierTooLong   = errors.New("identifier is too long")
	ErrPathTraversal       = errors.New("identifier contains a path traversal sequence")
	ErrShellMetacharacter  = errors.New("identifier contains a shell metacharacter")
	ErrMalformedIdentifier = errors.New("identifier does not match the expected format")
)

var traversalSequences = []string{"..", "/", `\`}

const shellMetacharacters = "$`;&|<>'\""

// CheckIdentifier rejects values that are unsafe to forward to the remote API
// or to interpolate into URLs. The traversal and metacharacter checks run even
// though the pattern check would reject most of the same inputs.
func CheckIdentifier(value string) error {
	if value == "" {
		return ErrEmptyIdentifier
	}
	if len(value) > MaxIdentifierLength {
		return fmt.Errorf("%w: %d > %d characters", ErrIdentifierTooLong, len(value), MaxIdentifierLength)
	}
	for _, seq := range traversalSequences {
		if strings.Contains(value, seq) {
			return fmt.Errorf("%w: %q", ErrPathTraversal, seq)
		}
	}
	if i := strings.IndexAny(value, shellMetacharacters); i >= 0 {
		return fmt.Errorf("%w: %q", ErrShellMetacharacter, value[i:i+1])
	}
	if !IdentifierPattern.MatchString(value) {
		return fmt.Errorf("%w (want %s)", ErrMalformedIdentifier, IdentifierPattern)
	}
	return nil
}
