package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestIs_MatchesByKind(t *testing.T) {
	err := fmt.Errorf("settle: %w", NotFound("注单不存在"))

	if !errors.Is(err, ErrNotFound) {
		t.Fatal("wrapped NotFound should match ErrNotFound")
	}
	if errors.Is(err, ErrConflict) {
		t.Fatal("NotFound must not match ErrConflict")
	}
	if KindOf(err) != KindNotFound {
		t.Fatalf("KindOf: want NotFound, got %q", KindOf(err))
	}
}

func TestKindOf_PlainError(t *testing.T) {
	if k := KindOf(errors.New("boom")); k != "" {
		t.Fatalf("plain error should have no kind, got %q", k)
	}
}

func TestError_Message(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"http", &Error{Kind: KindHTTPError, Message: "wallet http error", StatusCode: 503}, "wallet http error (http 503)"},
		{"rejected", &Error{Kind: KindAgentRejected, Message: "rejected", AgentStatus: "RS_ERROR_USER"}, "rejected (status=RS_ERROR_USER)"},
		{"wrapped", Wrap(KindNetworkError, "dial", errors.New("refused")), "dial: refused"},
		{"bare", &Error{Kind: KindUnknownError}, "UnknownError"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Fatalf("want %q, got %q", tt.want, got)
			}
		})
	}
}

func TestIsWalletFailure(t *testing.T) {
	if !IsWalletFailure(&Error{Kind: KindTimeoutError}) {
		t.Fatal("timeout is a wallet failure")
	}
	if IsWalletFailure(Conflict("dup")) {
		t.Fatal("conflict is not a wallet failure")
	}
}
