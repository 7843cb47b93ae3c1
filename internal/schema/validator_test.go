package schema

import (
	"strings"
	"testing"
)

type sample struct {
	Name string `validate:"required"`
	Blob string `validate:"required,base64"`
	N    int    `validate:"gte=0"`
}

func TestValidate_OK(t *testing.T) {
	if err := Validate(sample{Name: "a", Blob: "aGVsbG8=", N: 0}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_ListsFailingFields(t *testing.T) {
	err := New().Validate(sample{Blob: "not base64!", N: -1})
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	for _, want := range []string{"Name(required)", "Blob(base64)", "N(gte)"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected %q in %q", want, msg)
		}
	}
}
