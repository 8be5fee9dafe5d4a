package handoff

import "github.com/hupe1980/orchestra/core"

// Filter maps the items visible before a handoff to the items the target
// agent sees. Filters must not mutate their input.
type Filter func(items []core.Item) []core.Item

// RemoveAllTools drops every capability invocation and result.
func RemoveAllTools(items []core.Item) []core.Item {
	return core.FilterItems(items, func(it core.Item) bool {
		switch it.(type) {
		case core.CapabilityInvocation, core.CapabilityResult:
			return false
		}
		return true
	})
}

// RemoveReasoning drops reasoning traces.
func RemoveReasoning(items []core.Item) []core.Item {
	return core.FilterItems(items, func(it core.Item) bool {
		_, ok := it.(core.ReasoningTrace)
		return !ok
	})
}

// KeepLast keeps the last n items. Capability results whose invocation was
// cut off are dropped as well so the visible history stays paired.
func KeepLast(n int) Filter {
	return func(items []core.Item) []core.Item {
		if n <= 0 {
			return []core.Item{}
		}
		if len(items) <= n {
			return core.CloneItems(items)
		}

		return core.DropOrphanResults(items[len(items)-n:])
	}
}

// Chain applies filters left to right.
func Chain(filters ...Filter) Filter {
	return func(items []core.Item) []core.Item {
		out := items
		for _, f := range filters {
			if f != nil {
				out = f(out)
			}
		}
		return out
	}
}
