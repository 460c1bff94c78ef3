package persistence

import (
	"testing"

	"familytree/testutil"
)

// TestBackendsOnlyBuildOnTheArena keeps every durable backend a thin
// persistence hook around the memory arena.
func TestBackendsOnlyBuildOnTheArena(t *testing.T) {
	allowed := testutil.ModuleImportsExcept(
		"familytree/pkg/domain",
		"familytree/internal/infra/persistence/memory",
	)
	for _, dir := range []string{"sqlite", "postgres", "relational"} {
		t.Run(dir, func(t *testing.T) {
			testutil.AssertNoDirectImports(t, dir, allowed, dir+" backend must only depend on the arena")
		})
	}
}
