package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"testing"
)

func TestIsWalksWrappedChain(t *testing.T) {
	base := New(ErrCommandTimeout, "no response")
	wrapped := fmt.Errorf("get data: %w", base)

	if !Is(wrapped, ErrCommandTimeout) {
		t.Fatal("Is(wrapped, ErrCommandTimeout) = false, want true")
	}
	if Is(wrapped, ErrSocketClosed) {
		t.Fatal("Is(wrapped, ErrSocketClosed) = true, want false")
	}
	if Is(nil, ErrCommandTimeout) {
		t.Fatal("Is(nil) = true, want false")
	}
}

func TestWrapKeepsAppErrorCode(t *testing.T) {
	inner := New(ErrSocketClosed, "connection closed")
	outer := Wrap(inner, ErrInternal, "stream file")

	if outer.Code != ErrSocketClosed {
		t.Errorf("Code = %s, want %s", outer.Code, ErrSocketClosed)
	}
	if outer.Message != "stream file: connection closed" {
		t.Errorf("Message = %q", outer.Message)
	}
	if inner.Message != "connection closed" {
		t.Errorf("inner message mutated to %q", inner.Message)
	}
}

func TestWrapForeignError(t *testing.T) {
	err := Wrap(io.EOF, ErrDatabase, "query")
	if !stderrors.Is(err, io.EOF) {
		t.Fatal("wrapped error does not unwrap to io.EOF")
	}
	if CodeOf(err) != ErrDatabase {
		t.Errorf("CodeOf = %s, want %s", CodeOf(err), ErrDatabase)
	}
	if Wrap(nil, ErrDatabase, "x") != nil {
		t.Error("Wrap(nil) should be nil")
	}
}

func TestCodeOfPlainError(t *testing.T) {
	if got := CodeOf(io.EOF); got != ErrInternal {
		t.Errorf("CodeOf(io.EOF) = %s, want %s", got, ErrInternal)
	}
}
