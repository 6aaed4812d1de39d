// Package defaults provides embedded copies of the default config and
// workspace bootstrap files for the nova init subcommand.
package defaults

import _ "embed"

//go:embed config.example.yaml
var ConfigYAML []byte

//go:embed SOUL.md
var SoulMD []byte

//go:embed AGENTS.md
var AgentsMD []byte

//go:embed USER.md
var UserMD []byte

//go:embed TOOLS.md
var ToolsMD []byte

//go:embed HEARTBEAT.md
var HeartbeatMD []byte

// Bootstrap maps workspace file names to their seed content.
var Bootstrap = map[string][]byte{
	"SOUL.md":      SoulMD,
	"AGENTS.md":    AgentsMD,
	"USER.md":      UserMD,
	"TOOLS.md":     ToolsMD,
	"HEARTBEAT.md": HeartbeatMD,
}
