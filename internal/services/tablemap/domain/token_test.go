package domain

import (
	"testing"
	"time"
)

func TestTokenOwnedBy(t *testing.T) {
	owner := "user-1"
	token := Token{OwnerUserID: &owner}
	if !token.OwnedBy("user-1") {
		t.Fatal("expected owner match")
	}
	if token.OwnedBy("user-2") {
		t.Fatal("did not expect other user to own token")
	}
	if token.OwnedBy("") {
		t.Fatal("blank user must never own a token")
	}
	if (Token{}).OwnedBy("user-1") {
		t.Fatal("unowned token must not match")
	}
}

func TestTokenIsNewerThan(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	local := Token{Version: 3, UpdatedAt: base}

	if !(Token{Version: 4, UpdatedAt: base.Add(-time.Hour)}).IsNewerThan(local) {
		t.Fatal("higher version must win regardless of timestamp")
	}
	if (Token{Version: 2, UpdatedAt: base.Add(time.Hour)}).IsNewerThan(local) {
		t.Fatal("lower version must never win")
	}
	if !(Token{Version: 3, UpdatedAt: base.Add(time.Millisecond)}).IsNewerThan(local) {
		t.Fatal("equal version with later timestamp must win")
	}
	if (Token{Version: 3, UpdatedAt: base}).IsNewerThan(local) {
		t.Fatal("identical token is not newer")
	}
}

func TestTokenVisibleTo(t *testing.T) {
	hidden := Token{Visibility: VisibilityHidden}
	if hidden.VisibleTo(RolePlayer) || hidden.VisibleTo(RoleGuest) {
		t.Fatal("hidden token must be host-only")
	}
	if !hidden.VisibleTo(RoleHost) {
		t.Fatal("host must see hidden tokens")
	}
	if !(Token{Visibility: VisibilityVisible}).VisibleTo(RoleGuest) {
		t.Fatal("visible token must be shown to guests")
	}
}

func TestParseVisibilityAndRole(t *testing.T) {
	if v, err := ParseVisibility(""); err != nil || v != VisibilityVisible {
		t.Fatalf("empty visibility = %q, %v", v, err)
	}
	if v, err := ParseVisibility(" Hidden "); err != nil || v != VisibilityHidden {
		t.Fatalf("hidden visibility = %q, %v", v, err)
	}
	if _, err := ParseVisibility("invisible"); err == nil {
		t.Fatal("expected invalid visibility error")
	}
	if ParseRole("host") != RoleHost || ParseRole("PLAYER") != RolePlayer || ParseRole("admin") != RoleGuest {
		t.Fatal("unexpected role parsing")
	}
}

func TestTokenCheckPlacement(t *testing.T) {
	scene, err := NewScene("scene-1", "sess-1", "Crypt", 32, 320, 320)
	if err != nil {
		t.Fatalf("new scene: %v", err)
	}
	if err := (Token{SceneID: "scene-1", XCell: 9, YCell: 9}).CheckPlacement(scene); err != nil {
		t.Fatalf("expected placement to pass: %v", err)
	}
	if err := (Token{SceneID: "scene-1", XCell: 10}).CheckPlacement(scene); err == nil {
		t.Fatal("expected out of bounds")
	}
	if err := (Token{SceneID: "scene-2"}).CheckPlacement(scene); err == nil {
		t.Fatal("expected scene mismatch")
	}
}
