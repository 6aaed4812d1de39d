package prompts

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nugget/nova-agent/internal/paths"
)

// basePersona anchors the system prompt when the workspace has no
// SOUL.md yet. Kept deliberately minimal; the bootstrap files are the
// real personality.
const basePersona = `You are Nova, a personal AI assistant. You are helpful,
direct, and honest. You have persistent memory and a set of tools; use
them rather than guessing.`

// toolGuidance tells the model how to behave around tool use.
const toolGuidance = `When you need information you don't have, use a tool.
Tool results are visible only to you; summarize what matters for the user.
Store durable facts about the user with the remember tool, and check your
memory with recall before asking the user something they may have told
you already.`

// BuildSystemPrompt assembles the agent's system message: persona and
// workspace bootstrap files, then long-term memory, then relevant facts,
// then tool guidance. Missing bootstrap files are skipped silently; a
// brand-new workspace still yields a usable prompt.
func BuildSystemPrompt(ws *paths.Workspace, longTermMemory string, relevantFacts []string) string {
	var sb strings.Builder

	wroteBootstrap := false
	for _, path := range ws.BootstrapFiles() {
		data, err := os.ReadFile(path)
		if err != nil || len(strings.TrimSpace(string(data))) == 0 {
			continue
		}
		if wroteBootstrap {
			sb.WriteString("\n\n")
		}
		sb.WriteString(fmt.Sprintf("# %s\n\n%s", filepath.Base(path), strings.TrimSpace(string(data))))
		wroteBootstrap = true
	}
	if !wroteBootstrap {
		sb.WriteString(basePersona)
	}

	if mem := strings.TrimSpace(longTermMemory); mem != "" {
		sb.WriteString("\n\n# Long-term memory\n\n")
		sb.WriteString(mem)
	}

	if len(relevantFacts) > 0 {
		sb.WriteString("\n\n# Relevant facts\n")
		for _, f := range relevantFacts {
			sb.WriteString("\n- ")
			sb.WriteString(f)
		}
	}

	sb.WriteString("\n\n# Tool use\n\n")
	sb.WriteString(toolGuidance)

	return sb.String()
}
