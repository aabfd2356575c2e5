package errkind

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapPreservesKindAndUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(Network, cause)
	if Is(err) != Network {
		t.Fatalf("Is(err) = %v, want %v", Is(err), Network)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to see through to the wrapped cause")
	}
}

func TestIsDefaultsToNetworkForUnkinded(t *testing.T) {
	plain := fmt.Errorf("plain error")
	if Is(plain) != Network {
		t.Fatalf("Is(plain) = %v, want %v", Is(plain), Network)
	}
}

func TestWithDataRoundTrips(t *testing.T) {
	err := New(AccountNotFound, "no such account").WithData(Data{Service: "spotify", Account: "personal"})
	d := DataOf(err)
	if d.Service != "spotify" || d.Account != "personal" {
		t.Fatalf("unexpected data: %+v", d)
	}
}

func TestDataOfEmptyForUnkinded(t *testing.T) {
	d := DataOf(errors.New("plain"))
	if d != (Data{}) {
		t.Fatalf("expected empty data, got %+v", d)
	}
}
