package vault

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"cmslake/internal/lake"
)

func TestMemoryVault_PutAndGet(t *testing.T) {
	ctx := context.Background()
	v := NewMemoryVault()

	loc, err := v.Put(ctx, "cms/data/entries.parquet", strings.NewReader("PAR1"), 4, "application/vnd.apache.parquet")
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if loc != "memory://cms/data/entries.parquet" {
		t.Errorf("Put() location = %q", loc)
	}
	if got := v.ContentType("cms/data/entries.parquet"); got != "application/vnd.apache.parquet" {
		t.Errorf("ContentType() = %q", got)
	}

	var buf bytes.Buffer
	if err := v.Get(ctx, "cms/data/entries.parquet", &buf); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if buf.String() != "PAR1" {
		t.Errorf("Get() = %q, want PAR1", buf.String())
	}
	if !v.Exists(ctx, "cms/data/entries.parquet") || v.Exists(ctx, "other") {
		t.Error("Exists() does not match stored keys")
	}
	if keys := v.Keys(); len(keys) != 1 {
		t.Errorf("Keys() = %v, want one key", keys)
	}
}

func TestMemoryVault_Errors(t *testing.T) {
	ctx := context.Background()
	v := NewMemoryVault()

	if _, err := v.Put(ctx, "k", strings.NewReader("abc"), 5, ""); err == nil {
		t.Error("Put() expected size mismatch error")
	}
	var vErr *lake.ValidationError
	if _, err := v.Put(ctx, "", strings.NewReader(""), 0, ""); !errors.As(err, &vErr) {
		t.Errorf("Put() empty key error = %v, want ValidationError", err)
	}
	var nf *lake.NotFoundError
	if err := v.Get(ctx, "missing", &bytes.Buffer{}); !errors.As(err, &nf) {
		t.Errorf("Get() error = %v, want NotFoundError", err)
	}
	if err := v.ValidateSetup(ctx); err != nil {
		t.Errorf("ValidateSetup() error = %v", err)
	}
}
