package operations

import "strings"

const (
	confFlagName   = "conf"
	levelFlagName  = "level"
	dryRunFlagName = "dry-run"
	jsonFlagName   = "json"
	targetFlagName = "target"
	dirFlagName    = "dir"
)

func joinFlagNames(ids ...string) string { return strings.Join(ids, ", ") }
