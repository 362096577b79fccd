package txerr

import (
	"errors"
	"io"
	"testing"
)

func TestOfKindMatchesWrappedErrors(t *testing.T) {
	err := fn()
	if !OfKind(err, Corrupt) {
		t.Fatalf("OfKind(err, Corrupt) = false, want true")
	}
	if OfKind(err, NotFound) {
		t.Fatal("OfKind(err, NotFound) = true, want false")
	}
}

func fn() error {
	return Newf(Corrupt, "bad record at offset %d", 42)
}

func TestWrapReturnsNilForNilError(t *testing.T) {
	if Wrap("some/path", nil) != nil {
		t.Fatal("Wrap(path, nil) should return nil, not a non-nil *Error")
	}
}

func TestWrapPreservesUnderlyingError(t *testing.T) {
	wrapped := Wrap("some/path", io.EOF)
	var e *Error
	if !errors.As(wrapped, &e) || e.Kind != IOError {
		t.Fatalf("Wrap = %v, want an *Error of kind IOError", wrapped)
	}
	if !errors.Is(wrapped, io.EOF) {
		t.Fatal("errors.Is should see through Wrap to the underlying error")
	}
}

func TestIsMatchesByKindOnly(t *testing.T) {
	sentinel := New(StateError, "")
	err := Newf(StateError, "coordinator is not running")
	if !errors.Is(err, sentinel) {
		t.Fatal("errors.Is should match a bare-Kind sentinel with the same Kind")
	}
	other := Newf(NotFound, "coordinator is not running")
	if errors.Is(other, sentinel) {
		t.Fatal("errors.Is must not match across different Kinds")
	}
}
