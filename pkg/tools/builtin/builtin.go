// Package builtin provides the standard set of agent tools: read, bash,
// edit, hashline_edit, write, grep, find, ls, todo, and the web pair. The
// file tools are thin I/O wrappers over the pure hashline / fuzzy /
// linediff packages: read the file, run the engine, write the result.
package builtin

import (
	"github.com/hashline-dev/agent/pkg/tools"
)

// Preset selects which built-in tools are registered.
type Preset string

const (
	// PresetCoding registers read, bash, edit, hashline_edit, write, todo —
	// the default for an agent that needs to read and modify files.
	PresetCoding Preset = "coding"

	// PresetReadOnly registers read, grep, find, ls — safe for exploration
	// without modification.
	PresetReadOnly Preset = "readonly"

	// PresetAll registers all built-in tools including web search and fetch.
	PresetAll Preset = "all"

	// PresetWeb registers web_search and web_fetch only.
	PresetWeb Preset = "web"

	// PresetNone registers nothing; useful when you only want plugin tools.
	PresetNone Preset = "none"
)

// Register adds the tools for the given preset to the registry.
// cwd is the working directory all file tools operate from.
// Pass an empty string to use the process working directory.
// The web tools get a fresh cache with the default TTL; use
// RegisterWithCache to share or disable one.
func Register(reg *tools.Registry, preset Preset, cwd string) {
	RegisterWithCache(reg, preset, cwd, NewWebCache(DefaultWebCacheTTL))
}

// RegisterWithCache is Register with an explicit cache for the web tools.
// The caller owns the cache and its sharing; nil disables caching.
func RegisterWithCache(reg *tools.Registry, preset Preset, cwd string, cache *WebCache) {
	if cwd == "" {
		cwd = "."
	}

	switch preset {
	case PresetCoding:
		reg.Register(NewReadTool(cwd))
		reg.Register(NewBashTool(cwd))
		reg.Register(NewEditTool(cwd))
		reg.Register(NewHashlineEditTool(cwd))
		reg.Register(NewWriteTool(cwd))
		reg.Register(NewTodoTool(NewTodoStore()))

	case PresetReadOnly:
		reg.Register(NewReadTool(cwd))
		reg.Register(NewGrepTool(cwd))
		reg.Register(NewFindTool(cwd))
		reg.Register(NewLsTool(cwd))

	case PresetAll:
		reg.Register(NewReadTool(cwd))
		reg.Register(NewBashTool(cwd))
		reg.Register(NewEditTool(cwd))
		reg.Register(NewHashlineEditTool(cwd))
		reg.Register(NewWriteTool(cwd))
		reg.Register(NewGrepTool(cwd))
		reg.Register(NewFindTool(cwd))
		reg.Register(NewLsTool(cwd))
		reg.Register(NewTodoTool(NewTodoStore()))
		reg.Register(NewWebSearchToolWithCache(cache))
		reg.Register(NewWebFetchToolWithCache(cache))

	case PresetWeb:
		reg.Register(NewWebSearchToolWithCache(cache))
		reg.Register(NewWebFetchToolWithCache(cache))

	case PresetNone:
		// nothing
	}
}

// Individual constructors are exported so callers can mix and match.
// e.g.:  reg.Register(builtin.NewReadTool(cwd))
