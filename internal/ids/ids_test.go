package ids

import "testing"

func TestNewIsSortable(t *testing.T) {
	a, b := New(), New()
	if a >= b {
		t.Fatalf("expected %s < %s", a, b)
	}
}

func TestCodeAndTokenShape(t *testing.T) {
	code, err := Code()
	if err != nil {
		t.Fatalf("Code: %v", err)
	}
	if len(code) != 32 {
		t.Fatalf("unexpected code length %d", len(code))
	}
	tok, err := Token()
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if len(tok) != 43 {
		t.Fatalf("unexpected token length %d", len(tok))
	}
	other, _ := Token()
	if tok == other {
		t.Fatal("tokens must not repeat")
	}
}
