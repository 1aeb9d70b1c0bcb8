package model

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestKindOf(t *testing.T) {
	base := NewError(KindNotFound, "storage: not found")
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"plain", errors.New("boom"), KindInternal},
		{"direct", base, KindNotFound},
		{"wrapped", fmt.Errorf("get block: %w", base), KindNotFound},
		{"io", Wrap(KindIO, "read", io.ErrUnexpectedEOF), KindIO},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Fatalf("KindOf=%q want %q", got, tt.want)
			}
		})
	}
}

func TestIsKind_SeesInnerKinds(t *testing.T) {
	inner := NewError(KindCorruption, "digest mismatch")
	outer := Wrap(KindIO, "cat", inner)
	if !IsKind(outer, KindIO) {
		t.Fatalf("expected outer kind")
	}
	if !IsKind(outer, KindCorruption) {
		t.Fatalf("expected inner kind to be visible")
	}
	if IsKind(outer, KindNotFound) {
		t.Fatalf("unexpected kind match")
	}
	if !errors.Is(outer, inner) {
		t.Fatalf("errors.Is should see the sentinel")
	}
}

func TestError_Message(t *testing.T) {
	if got := Wrap(KindIO, "read", io.EOF).Error(); got != "read: EOF" {
		t.Fatalf("got %q", got)
	}
	if got := Errorf(KindInvalidCID, "bad %s", "cid").Error(); got != "bad cid" {
		t.Fatalf("got %q", got)
	}
	var nilErr *Error
	if nilErr.Error() != "<nil>" {
		t.Fatalf("nil receiver")
	}
}
