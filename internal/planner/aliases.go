package planner

import "strings"

// toolAliases maps legacy/alternate tool ids to their canonical registry id
// (spec §4.7: "e.g. filesystem.write -> fs.write"). Grounded on
// internal/tools/naming.DefaultCoreAliases' alias-map shape, flattened to a
// single flat map since spec describes one normalization step rather than
// naming's source/namespace/trust hierarchy.
var toolAliases = map[string]string{
	"filesystem.write": "fs.write",
	"filesystem.read":  "fs.read",
	"filesystem.edit":  "fs.edit",
	"shell.exec":       "system.run",
	"web.search":       "websearch",
	"web.fetch":        "webfetch",
}

// NormalizeToolID resolves a legacy alias to its canonical id, or returns id
// unchanged if it isn't aliased.
func NormalizeToolID(id string) string {
	id = strings.TrimSpace(id)
	if canonical, ok := toolAliases[id]; ok {
		return canonical
	}
	return id
}
