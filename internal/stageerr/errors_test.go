package stageerr

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestError_Message(t *testing.T) {
	err := New(FetchError, "GetObject logs/a.json.gz", io.ErrUnexpectedEOF)
	want := "FetchError: GetObject logs/a.json.gz: unexpected EOF"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}

	bare := Newf(InvalidKeyFormat, "key %q", "x.txt")
	if bare.Error() != `InvalidKeyFormat: key "x.txt"` {
		t.Errorf("unexpected message: %s", bare.Error())
	}
}

func TestError_UnwrapAndKind(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("outer: %w", New(ParseError, "decode", cause))

	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable via errors.Is")
	}
	if !Is(err, ParseError) {
		t.Error("expected ParseError kind")
	}
	if Is(err, NotifyError) {
		t.Error("did not expect NotifyError kind")
	}
	if _, ok := KindOf(cause); ok {
		t.Error("plain error should carry no kind")
	}
}

func TestKind_String(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{InvalidEvent, "InvalidEvent"},
		{ConfigUnavailable, "ConfigUnavailable"},
		{InvalidKeyFormat, "InvalidKeyFormat"},
		{FetchError, "FetchError"},
		{DecompressError, "DecompressError"},
		{ParseError, "ParseError"},
		{NotifyError, "NotifyError"},
		{Kind(42), "Kind(42)"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", int(tt.kind), got, tt.want)
		}
	}
}
