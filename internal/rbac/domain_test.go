package rbac

import "testing"

func TestStateEffective(t *testing.T) {
	if !StateActive.Effective() {
		t.Fatal("active must be effective")
	}
	if StateRevoked.Effective() || StateDeleted.Effective() {
		t.Fatal("revoked and deleted must not be effective")
	}
}

func TestStateValid(t *testing.T) {
	for _, s := range []State{StateActive, StateRevoked, StateDeleted} {
		if !s.Valid() {
			t.Fatalf("%s must be valid", s)
		}
	}
	if State("archived").Valid() || State("").Valid() {
		t.Fatal("unknown states must be invalid")
	}
}

func TestNotFoundErrorMessage(t *testing.T) {
	err := &NotFoundError{Entity: "permissions", IDs: []int64{3, 9}}
	want := "rbac: permissions not found: 3, 9"
	if err.Error() != want {
		t.Fatalf("got %q, want %q", err.Error(), want)
	}
	err = &NotFoundError{Entity: "role"}
	if err.Error() != "rbac: role not found" {
		t.Fatalf("got %q", err.Error())
	}
}
