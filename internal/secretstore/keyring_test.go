package secretstore

import (
	"context"
	"testing"

	"github.com/raibid-labs/sigilforge/internal/errkind"
	"github.com/raibid-labs/sigilforge/internal/secret"
)

func TestValidateKeyringAttrRejectsControlCharacters(t *testing.T) {
	if _, err := validateKeyringAttr("sigilforge/svc/acct/access_token\n"); err == nil {
		t.Fatalf("expected error for key containing newline")
	}
	if _, err := validateKeyringAttr(""); err == nil {
		t.Fatalf("expected error for empty key")
	}
	if v, err := validateKeyringAttr(" sigilforge/svc/acct/access_token "); err != nil || v != "sigilforge/svc/acct/access_token" {
		t.Fatalf("expected trimmed key, got %q err=%v", v, err)
	}
}

func TestKeyringUnavailableSurfacesLoudly(t *testing.T) {
	k := &Keyring{available: false, initErr: errkind.New(errkind.KeyringUnavailable, "no backend")}
	ctx := context.Background()

	if _, err := k.Get(ctx, "sigilforge/svc/acct/access_token"); errkind.Is(err) != errkind.KeyringUnavailable {
		t.Fatalf("expected KeyringUnavailable, got %v", err)
	}
	if err := k.Set(ctx, "sigilforge/svc/acct/access_token", secret.New("x")); errkind.Is(err) != errkind.KeyringUnavailable {
		t.Fatalf("expected KeyringUnavailable, got %v", err)
	}
	if err := k.Delete(ctx, "sigilforge/svc/acct/access_token"); errkind.Is(err) != errkind.KeyringUnavailable {
		t.Fatalf("expected KeyringUnavailable, got %v", err)
	}
	if _, err := k.List(ctx, "sigilforge/svc/"); errkind.Is(err) != errkind.KeyringUnavailable {
		t.Fatalf("expected KeyringUnavailable, got %v", err)
	}
}
