package prompts

import "fmt"

// consolidationTemplate asks the model to fold a transcript into the
// two memory artifacts. The response must be bare JSON so the
// consolidator can parse it mechanically; a model that wraps it in
// markdown fences is tolerated, anything else fails the pass.
const consolidationTemplate = `You are consolidating an assistant's conversation memory.

Below is a transcript of messages that are about to leave the active
context window. Produce two things:

1. "history_entry": a concise narrative summary of this slice of
   conversation (topics, decisions, actions taken, open threads).
   Write it as a few sentences or short bullets.

2. "memory_update": the full revised long-term memory document in
   markdown, incorporating anything from this transcript worth keeping
   permanently (stable facts, preferences, ongoing projects). Start
   from the current document below and return the complete updated
   text. If nothing should change, return it unchanged.

Respond with ONLY a JSON object, no prose before or after:
{"history_entry": "...", "memory_update": "..."}

Current long-term memory document:
---
%s
---

Transcript:
---
%s
---`

// ConsolidationPrompt returns the interpolated consolidation request.
func ConsolidationPrompt(currentMemory, transcript string) string {
	return fmt.Sprintf(consolidationTemplate, currentMemory, transcript)
}

// HeartbeatOK is the token the model answers with when the heartbeat
// checklist needs no action. Responses containing it are discarded.
const HeartbeatOK = "HEARTBEAT_OK"

// HeartbeatPrompt frames a heartbeat wake-up around the checklist
// contents.
func HeartbeatPrompt(checklist string) string {
	return fmt.Sprintf(`This is a scheduled heartbeat, not a user message.
Review your checklist below. If anything needs action now, take it with
your tools and report what you did. If nothing needs attention, reply
with exactly %s and nothing else.

Checklist:
%s`, HeartbeatOK, checklist)
}
