package errors

import (
	"errors"
	"testing"
)

var errWrapped = errors.New("wrapped error")

func TestWrap(t *testing.T) {
	err := Wrap(errWrapped, "Hello, Wrapped!")
	if err.Error() != "Hello, Wrapped!, err: wrapped error" {
		t.Fatalf("error mismatch: %+v", err)
	}
}

func TestWrapNil(t *testing.T) {
	if err := Wrap(nil, "ignored"); err != nil {
		t.Fatalf("wrap nil should stay nil, got: %+v", err)
	}
}

func TestWrapfPreservesSentinel(t *testing.T) {
	err := Wrapf(errWrapped, "attempt %d", 3)
	if err.Error() != "attempt 3, err: wrapped error" {
		t.Fatalf("error mismatch: %+v", err)
	}
	if !Is(err, errWrapped) {
		t.Fatalf("wrapped sentinel should be matchable: %+v", err)
	}
}
