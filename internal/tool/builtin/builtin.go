package builtin

import "github.com/cludelabs/clude/internal/tool"

// All returns the standard tool set in registry order.
func All() []tool.Spec {
	return []tool.Spec{
		ReadFile(),
		WriteFile(),
		ListDir(),
		GrepFiles(),
		RunCmd(),
	}
}
