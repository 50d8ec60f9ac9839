package main

import (
	"testing"

	"github.com/ggoodman/mcp-hub-go/registry"
)

func TestParseKind(t *testing.T) {
	t.Parallel()
	k, err := parseKind("Resource")
	if err != nil || k == nil || *k != registry.KindResource {
		t.Fatalf("want resource kind, got %v %v", k, err)
	}
	if k, err := parseKind(""); err != nil || k != nil {
		t.Fatalf("want nil kind, got %v %v", k, err)
	}
	if _, err := parseKind("widget"); err == nil {
		t.Fatalf("expected error")
	}
}
