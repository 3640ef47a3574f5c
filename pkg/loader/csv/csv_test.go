package csv

import (
	"errors"
	"testing"
)

func TestToText(t *testing.T) {
	in := "name,company\nTiDB,PingCAP\n,\n\"TiKV, storage\",\"CNCF \"\"graduated\"\"\"\n"
	got, err := ToText([]byte(in))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "name,company\nTiDB,PingCAP\n\"TiKV, storage\",\"CNCF \"\"graduated\"\"\"\n"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}

	if _, err := ToText([]byte(" , \n")); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
}
