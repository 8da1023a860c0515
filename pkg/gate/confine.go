package gate

import (
	"fmt"
	"path/filepath"
	"strings"
)

// IsWorkspaceConfined reports whether a relative path argument stays under workspace.
// The second return value explains a rejection.
func IsWorkspaceConfined(workspace, arg string) (bool, string) {
	if workspace == "" {
		return false, "workspace root not set"
	}
	if filepath.IsAbs(arg) {
		return false, "absolute paths are not allowed"
	}
	cleanArg := filepath.Clean(arg)
	if cleanArg == "." {
		return false, "invalid path"
	}
	for _, seg := range strings.Split(cleanArg, string(filepath.Separator)) {
		if seg == ".." {
			return false, "path traversal detected"
		}
	}

	candidate := filepath.Clean(filepath.Join(workspace, cleanArg))
	if ok, reason := confinedUnderWorkspace(workspace, candidate); !ok {
		return false, fmt.Sprintf("path not confined: %s", reason)
	}
	return true, ""
}

func confinedUnderWorkspace(workspace, candidate string) (bool, string) {
	root, err := filepath.Abs(workspace)
	if err != nil {
		return false, "invalid workspace"
	}
	cand, err := filepath.Abs(candidate)
	if err != nil {
		return false, "invalid path"
	}
	if cand == root {
		return true, ""
	}
	if strings.HasPrefix(cand, root+string(filepath.Separator)) {
		return true, ""
	}
	return false, "path escapes workspace"
}
