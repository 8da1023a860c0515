package toolcall

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/zen-systems/cascadegate/pkg/gate"
	"github.com/zen-systems/cascadegate/pkg/schema"
)

type argScope int

const (
	scopeAny argScope = iota
	// scopeShell covers arguments that reach a shell or the filesystem.
	scopeShell
	scopePath
)

type denyPattern struct {
	name  string
	re    *regexp.Regexp
	scope argScope
}

var defaultDenyPatterns = []denyPattern{
	{name: "recursive force delete", re: regexp.MustCompile(`(?i)\brm\s+(-[a-z]*r[a-z]*f[a-z]*|-[a-z]*f[a-z]*r[a-z]*|--recursive\s+--force|--force\s+--recursive)\b`)},
	{name: "command chaining", re: regexp.MustCompile(`(;|&&|\|\|)\s*[a-zA-Z./]`), scope: scopeShell},
	{name: "command substitution", re: regexp.MustCompile("\\$\\(|`"), scope: scopeShell},
	{name: "filesystem format", re: regexp.MustCompile(`(?i)\bmkfs(\.[a-z0-9]+)?\b`)},
	{name: "raw disk write", re: regexp.MustCompile(`(?i)\bdd\s+if=`)},
	{name: "fork bomb", re: regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;?\s*:`)},
	{name: "world-writable root", re: regexp.MustCompile(`(?i)\bchmod\s+(-r\s+)?0?777\s+/(\s|$)`)},
	{name: "device redirect", re: regexp.MustCompile(`>\s*/dev/(sd|nvme|hd)[a-z0-9]*`)},
	{name: "destructive sql", re: regexp.MustCompile(`(?i)\b(drop\s+(table|database|schema)|truncate\s+table)\b`)},
	{name: "path traversal", re: regexp.MustCompile(`(^|[/\\])\.\.([/\\]|$)`), scope: scopePath},
	{name: "system path", re: regexp.MustCompile(`^(/|/(etc|bin|sbin|boot|dev|proc|sys|usr|lib|lib64|var/lib|root)(/.*)?|[a-zA-Z]:\\(windows|system32).*)$`), scope: scopePath},
}

var (
	pathArgNames  = []string{"path", "file", "filename", "filepath", "dir", "directory", "folder", "target", "dest", "destination", "src", "source"}
	shellArgNames = []string{"command", "cmd", "script", "shell", "args", "argv", "exec"}
)

// isPathArg reports whether an argument name looks like it carries a filesystem path.
func isPathArg(name string) bool {
	return argNamed(name, pathArgNames)
}

func isShellArg(name string) bool {
	return argNamed(name, shellArgNames) || isPathArg(name)
}

func argNamed(name string, names []string) bool {
	name = strings.ToLower(name)
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.Index(name, "["); i >= 0 {
		name = name[:i]
	}
	for _, p := range names {
		if name == p || strings.HasSuffix(name, "_"+p) || strings.HasPrefix(name, p+"_") {
			return true
		}
	}
	return false
}

func inScope(scope argScope, path, category string) bool {
	switch scope {
	case scopePath:
		return isPathArg(path)
	case scopeShell:
		return isShellArg(path) || category == "shell" || category == "filesystem"
	}
	return true
}

func safetyLayer(in *layerInput) LayerResult {
	res := LayerResult{}
	for _, call := range in.calls {
		var category string
		if tool, ok := schema.FindTool(in.tools, call.Name); ok {
			category = strings.ToLower(tool.Category)
		}
		for _, name := range sortedKeys(call.Arguments) {
			walkStrings(name, call.Arguments[name], func(path, s string) {
				pathLike := isPathArg(path)
				for _, p := range in.deny {
					if !inScope(p.scope, path, category) {
						continue
					}
					if p.re.MatchString(strings.TrimSpace(s)) {
						res.errorf("%s.%s matches deny pattern: %s", call.Name, path, p.name)
					}
				}
				if pathLike && in.workspace != "" && s != "" {
					if ok, reason := gate.IsWorkspaceConfined(in.workspace, filepath.FromSlash(s)); !ok {
						res.errorf("%s.%s rejected: %s", call.Name, path, reason)
					}
				}
			})
		}
	}
	res.Valid = len(res.Errors) == 0
	return res
}
