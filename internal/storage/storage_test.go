package storage

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotExist) {
		t.Fatalf("err=%v", err)
	}
	data := []byte("a,b\n")
	if err := s.Put(ctx, "exports/p1.csv", "text/csv", data); err != nil {
		t.Fatal(err)
	}
	data[0] = 'z'
	got, err := s.Get(ctx, "exports/p1.csv")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "a,b\n" {
		t.Fatalf("got=%q", got)
	}
}
