package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"familytree/internal/blob/core"
)

func TestStoreLifecycle(t *testing.T) {
	store := New()
	ctx := context.Background()
	md := map[string]string{"format": "yaml"}
	info, err := store.Put(ctx, "exports/a.yaml", strings.NewReader("people: []"), core.PutOptions{ContentType: "application/yaml", Metadata: md})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	md["format"] = "mutated"
	if info.Size != 10 || info.Metadata["format"] != "yaml" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := store.Put(ctx, "exports/a.yaml", strings.NewReader("again"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	head, err := store.Head(ctx, "exports/a.yaml")
	if err != nil || head.Metadata["format"] != "yaml" {
		t.Fatalf("head: %+v %v", head, err)
	}
	head.Metadata["format"] = "changed"
	again, _ := store.Head(ctx, "exports/a.yaml")
	if again.Metadata["format"] != "yaml" {
		t.Fatalf("head metadata must be a copy")
	}

	_, rc, err := store.Get(ctx, "exports/a.yaml")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if !bytes.Equal(body, []byte("people: []")) {
		t.Fatalf("unexpected body %q", body)
	}

	if _, err := store.Put(ctx, "exports/b.json", strings.NewReader("{}"), core.PutOptions{}); err != nil {
		t.Fatalf("put b: %v", err)
	}
	if _, err := store.Put(ctx, "tmp/c", strings.NewReader("c"), core.PutOptions{}); err != nil {
		t.Fatalf("put c: %v", err)
	}
	list, _ := store.List(ctx, "exports/")
	if len(list) != 2 || list[0].Key != "exports/a.yaml" || list[1].Key != "exports/b.json" {
		t.Fatalf("unexpected list %+v", list)
	}

	if _, err := store.PresignURL(ctx, "exports/a.yaml", core.SignedURLOptions{}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
	if ok, _ := store.Delete(ctx, "exports/a.yaml"); !ok {
		t.Fatalf("expected delete to report existing object")
	}
	if ok, _ := store.Delete(ctx, "exports/a.yaml"); ok {
		t.Fatalf("expected second delete to report missing")
	}
	if _, err := store.Head(ctx, "exports/a.yaml"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, _, err := store.Get(ctx, "exports/a.yaml"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from get, got %v", err)
	}
	if store.Driver() != core.DriverMemory {
		t.Fatalf("unexpected driver")
	}
}
