package moss

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorIs(t *testing.T) {
	inner := errors.New("disk exploded")
	e := &Error{Kind: ErrIO, Message: "reading index", Inner: inner, Op: "stone.Reader.Next"}

	if !errors.Is(e, ErrIO) {
		t.Fatal("expected errors.Is(e, ErrIO) to be true")
	}
	if errors.Is(e, ErrCorrupt) {
		t.Fatal("expected errors.Is(e, ErrCorrupt) to be false")
	}
	if !errors.Is(e, inner) {
		t.Fatal("expected the wrapped error to unwrap to inner")
	}
}

func TestErrorString(t *testing.T) {
	e := &Error{Kind: ErrMalformedEntry, Message: "missing hash", Op: "remote.Plugin.fetchItem"}
	got := e.Error()
	want := "remote.Plugin.fetchItem [malformed entry]: missing hash"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestErrorAs(t *testing.T) {
	wrapped := fmt.Errorf("wrapping: %w", &Error{Kind: ErrNotFound, Message: "no such pkgID"})
	var e *Error
	if !errors.As(wrapped, &e) {
		t.Fatal("expected errors.As to find the *Error")
	}
	if e.Kind != ErrNotFound {
		t.Fatalf("got kind %q, want %q", e.Kind, ErrNotFound)
	}
}
