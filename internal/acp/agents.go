package acp

import "strings"

// namedAgents maps a short CLI-facing agent name to the binary and fixed
// arguments that launch it in ACP mode.
var namedAgents = map[string]struct {
	command string
	args    []string
}{
	"gemini":   {command: "gemini", args: []string{"--experimental-acp"}},
	"opencode": {command: "opencode", args: []string{"acp"}},
}

// ResolveAgentCommand looks up name in the fixed agent table and returns
// the command and args to spawn, appending passArgs. Unknown names are
// treated as the command itself (passArgs become its arguments verbatim).
// For "opencode", a legacy "--acp" entry in passArgs is stripped since
// the table already supplies the modern "acp" subcommand.
func ResolveAgentCommand(name string, passArgs []string) (command string, args []string) {
	if entry, ok := namedAgents[name]; ok {
		if name == "opencode" {
			passArgs = stripLegacyAcpFlag(passArgs)
		}
		return entry.command, append(append([]string{}, entry.args...), passArgs...)
	}
	return name, passArgs
}

func stripLegacyAcpFlag(args []string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		if strings.TrimSpace(a) == "--acp" {
			continue
		}
		out = append(out, a)
	}
	return out
}
