package prompts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nugget/nova-agent/internal/paths"
)

func TestBuildSystemPrompt_EmptyWorkspace(t *testing.T) {
	ws, err := paths.NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	got := BuildSystemPrompt(ws, "", nil)
	if !strings.Contains(got, "You are Nova") {
		t.Error("base persona missing for empty workspace")
	}
	if !strings.Contains(got, "# Tool use") {
		t.Error("tool guidance missing")
	}
}

func TestBuildSystemPrompt_BootstrapOrder(t *testing.T) {
	dir := t.TempDir()
	ws, err := paths.NewWorkspace(dir)
	if err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(dir, "SOUL.md"), []byte("soul content"), 0o644)
	os.WriteFile(filepath.Join(dir, "USER.md"), []byte("user content"), 0o644)

	got := BuildSystemPrompt(ws, "", nil)

	soul := strings.Index(got, "soul content")
	user := strings.Index(got, "user content")
	if soul < 0 || user < 0 {
		t.Fatalf("bootstrap files not included:\n%s", got)
	}
	if soul > user {
		t.Error("SOUL.md should precede USER.md")
	}
	if strings.Contains(got, "You are Nova,") {
		t.Error("base persona should be replaced by bootstrap files")
	}
}

func TestBuildSystemPrompt_MemoryAndFacts(t *testing.T) {
	ws, err := paths.NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	got := BuildSystemPrompt(ws, "- user is named Alice", []string{"favorite color is blue"})
	if !strings.Contains(got, "# Long-term memory") || !strings.Contains(got, "Alice") {
		t.Error("long-term memory section missing")
	}
	if !strings.Contains(got, "- favorite color is blue") {
		t.Error("relevant facts section missing")
	}
}

func TestConsolidationPrompt_ContainsBoth(t *testing.T) {
	got := ConsolidationPrompt("current memory doc", "the transcript")
	if !strings.Contains(got, "current memory doc") || !strings.Contains(got, "the transcript") {
		t.Error("prompt missing interpolated sections")
	}
	if !strings.Contains(got, `"history_entry"`) || !strings.Contains(got, `"memory_update"`) {
		t.Error("prompt missing JSON contract")
	}
}

func TestHeartbeatPrompt(t *testing.T) {
	got := HeartbeatPrompt("- water the plants")
	if !strings.Contains(got, "water the plants") || !strings.Contains(got, HeartbeatOK) {
		t.Errorf("heartbeat prompt incomplete:\n%s", got)
	}
}
