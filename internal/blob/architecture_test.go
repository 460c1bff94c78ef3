package blob

import (
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// layerRule restricts which packages may import an infrastructure tree.
type layerRule struct {
	infra   string
	allowed []string
}

// TestInfraImportBoundaries keeps backends behind their facades: blob
// backends are reached through internal/blob, persistence backends through
// internal/core.
func TestInfraImportBoundaries(t *testing.T) {
	rules := []layerRule{
		{infra: "familytree/internal/infra/blob", allowed: []string{"familytree/internal/blob"}},
		{infra: "familytree/internal/infra/persistence", allowed: []string{"familytree/internal/core"}},
	}

	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports, Tests: true}
	pkgs, err := packages.Load(cfg, "familytree/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}

	seen := make(map[string]struct{})
	for _, pkg := range pkgs {
		path := strings.TrimSuffix(pkg.PkgPath, "_test")
		for _, rule := range rules {
			if hasPrefix(path, rule.infra) || allowedBy(path, rule.allowed) {
				continue
			}
			for importPath := range pkg.Imports {
				if hasPrefix(importPath, rule.infra) {
					seen[pkg.PkgPath+": "+importPath] = struct{}{}
				}
			}
		}
	}

	if len(seen) > 0 {
		violations := make([]string, 0, len(seen))
		for v := range seen {
			violations = append(violations, v)
		}
		sort.Strings(violations)
		for _, v := range violations {
			t.Errorf("forbidden infra import: %s", v)
		}
		t.Fatalf("found %d forbidden infra imports", len(violations))
	}
}

func allowedBy(path string, allowed []string) bool {
	for _, a := range allowed {
		if hasPrefix(path, a) {
			return true
		}
	}
	return false
}

func hasPrefix(importPath, prefix string) bool {
	return importPath == prefix || strings.HasPrefix(importPath, prefix+"/")
}
