package authz

import (
	"testing"
)

func TestNewCatalogRejectsDuplicates(t *testing.T) {
	_, err := NewCatalog([]CatalogEntry{
		{Resource: "COURSES", Action: "VIEW"},
		{Resource: "courses", Action: "view"},
	})
	if err == nil {
		t.Fatalf("expected duplicate key error")
	}
}

func TestNewCatalogRejectsEmptyParts(t *testing.T) {
	if _, err := NewCatalog([]CatalogEntry{{Resource: "", Action: "VIEW"}}); err == nil {
		t.Fatalf("expected error for empty resource")
	}
	if _, err := NewCatalog([]CatalogEntry{{Resource: "COURSES", Action: "  "}}); err == nil {
		t.Fatalf("expected error for empty action")
	}
}

func TestCatalogNormalizesKeys(t *testing.T) {
	c, err := NewCatalog([]CatalogEntry{{Resource: " courses ", Action: "view", Description: "View courses"}})
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	if !c.IsValidKey("COURSES.VIEW") {
		t.Fatalf("expected COURSES.VIEW to be valid")
	}
	if c.IsValidKey("COURSES.EDIT") {
		t.Fatalf("COURSES.EDIT should not be valid")
	}
	entry, ok := c.Entry("COURSES.VIEW")
	if !ok || entry.Resource != "COURSES" || entry.Action != "VIEW" {
		t.Fatalf("unexpected entry: %+v ok=%v", entry, ok)
	}
}

func TestCatalogKeysSortedAndCopied(t *testing.T) {
	c := DefaultCatalog()
	keys := c.Keys()
	if len(keys) != c.Len() {
		t.Fatalf("Keys returned %d entries, want %d", len(keys), c.Len())
	}
	for i := 1; i < len(keys); i++ {
		if keys[i-1] >= keys[i] {
			t.Fatalf("keys not sorted: %s before %s", keys[i-1], keys[i])
		}
	}
	keys[0] = "MUTATED"
	if c.Keys()[0] == "MUTATED" {
		t.Fatalf("Keys must return a copy")
	}
}

func TestPermissionsForResource(t *testing.T) {
	c := DefaultCatalog()
	keys := c.PermissionsForResource("courses")
	if len(keys) != 5 {
		t.Fatalf("expected 5 COURSES permissions, got %d", len(keys))
	}
	for _, key := range keys {
		entry, ok := c.Entry(key)
		if !ok || entry.Resource != "COURSES" {
			t.Fatalf("unexpected key %s for COURSES", key)
		}
	}
	if got := c.PermissionsForResource("NOPE"); len(got) != 0 {
		t.Fatalf("unknown resource should yield no keys, got %v", got)
	}
}

func TestNilCatalogIsInert(t *testing.T) {
	var c *Catalog
	if c.IsValidKey("COURSES.VIEW") {
		t.Fatalf("nil catalog validated a key")
	}
	if c.Len() != 0 || c.Keys() != nil {
		t.Fatalf("nil catalog should be empty")
	}
}
