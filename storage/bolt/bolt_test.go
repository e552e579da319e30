package bolt

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/legionkit/legion/storage"
)

func TestImpl(t *testing.T) {
	// Just confirm that this code compiles.
	var _ storage.Store = &Storage{}
}

func TestBasics(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "actors.db")

	s, err := NewStorage(filename)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Open(); err != nil {
		t.Fatal(err)
	}

	defer func() {
		if err := s.Close(); err != nil {
			t.Fatal(err)
		}
	}()

	if _, err := s.ReadActor(ctx, "homer"); !errors.Is(err, storage.NotFound) {
		t.Fatalf("err %v", err)
	}

	snap := []byte("snapshot bytes")
	if err := s.WriteActor(ctx, "homer", snap); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteActor(ctx, "marge", []byte("other")); err != nil {
		t.Fatal(err)
	}

	got, err := s.ReadActor(ctx, "homer")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, snap) {
		t.Fatalf("got %q", got)
	}

	ids := map[string]bool{}
	err = s.EachActor(ctx, func(id string, snapshot []byte) error {
		ids[id] = true
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !ids["homer"] || !ids["marge"] || len(ids) != 2 {
		t.Fatalf("ids %v", ids)
	}

	if err := s.RemActor(ctx, "homer"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ReadActor(ctx, "homer"); !errors.Is(err, storage.NotFound) {
		t.Fatalf("err %v", err)
	}
}
