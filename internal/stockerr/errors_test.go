package stockerr

import (
	"errors"
	"testing"
)

func TestWrapPreservesSentinel(t *testing.T) {
	err := Wrap(ErrAuthInvalid, "token fetch for %s", "BBRI")
	if !errors.Is(err, ErrAuthInvalid) {
		t.Fatalf("expected wrapped error to satisfy errors.Is(ErrAuthInvalid), got %v", err)
	}
	if errors.Is(err, ErrStorageFailure) {
		t.Fatalf("did not expect wrapped error to satisfy a different sentinel")
	}
}

func TestSentinelsAreDistinct(t *testing.T) {
	all := []error{ErrAuthInvalid, ErrTransportTransient, ErrProtocolMalformed, ErrConfigInvalid, ErrStorageFailure, ErrLogicError}
	for i, a := range all {
		for j, b := range all {
			if i != j && errors.Is(a, b) {
				t.Fatalf("sentinel %v should not match sentinel %v", a, b)
			}
		}
	}
}
