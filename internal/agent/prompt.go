package agent

import (
	"fmt"
	"strings"

	"github.com/HanSyngha/ONCE-sub000/internal/llm"
)

const promptHeader = `You are the organizing agent of a hierarchical note store.
You interact with the store exclusively through tool calls. Every response
must contain exactly one tool call and nothing else. When the task is done,
call the "complete" tool with a short summary. If you genuinely cannot
proceed without a human decision, call "ask_to_user"; use it sparingly,
the user may take minutes to answer.

Rules:
- One tool call per response. Additional calls are ignored.
- Prefer small, reversible steps; read before you write.
- Keep the hierarchy shallow and names descriptive.
- Never invent paths: list or search first when unsure.`

const (
	inputInstructions = `Task: file the user's input into the note store.
Decide where it belongs, creating folders and notes as needed, or append to
an existing note when that reads better. Then call "complete" describing
where the content ended up.`

	searchInstructions = `Task: answer the user's query from the note store.
Use read_file, list_directory and search_notes to find relevant notes, then
call "complete" with a summary and the ranked results (path plus snippet).
Do not modify notes unless the query explicitly asks for it.`

	refactorInstructions = `Task: reorganize the note store as the user asks.
Plan the target structure first, then apply it with move, rename, folder
and edit tools. Preserve content; restructure, do not rewrite. Call
"complete" summarizing what moved where.`
)

// windDownMarker is the sentinel that makes the warning injection
// idempotent: once present in the system prompt, crossing the threshold
// again appends nothing.
const windDownMarker = "[CONTEXT WINDOW WARNING]"

const windDownWarning = "\n\n" + windDownMarker + ` The conversation is close
to the model's context limit. Stop exploring, finish only the essential
remaining work, and call "complete" with a summary of what was done.`

// Corrective user turns injected when the model breaks protocol.
const (
	toolRequiredReminder = `Protocol reminder: every response must contain exactly one tool call.
Plain text is discarded. Respond again with a single tool call.`

	extractToolReminder = `Protocol reminder: respond with exactly one tool call. Use the
read-only tools to inspect notes and "record_todos" to finish.`
)

// systemPrompt builds the task-kind specific system prompt seeded with the
// current hierarchy snapshot.
func systemPrompt(kind TaskKind, snapshot string) string {
	var instructions string
	switch kind {
	case TaskSearch:
		instructions = searchInstructions
	case TaskRefactor:
		instructions = refactorInstructions
	default:
		instructions = inputInstructions
	}

	if strings.TrimSpace(snapshot) == "" {
		snapshot = "(empty space)"
	}

	return fmt.Sprintf("%s\n\n%s\n\nCurrent hierarchy:\n%s", promptHeader, instructions, snapshot)
}

// injectWindDown appends the wind-down warning to the system message once.
// Returns true when the warning was added on this call.
func injectWindDown(messages []llm.Message) bool {
	if len(messages) == 0 || messages[0].Role != "system" {
		return false
	}
	if strings.Contains(messages[0].Content, windDownMarker) {
		return false
	}
	messages[0].Content += windDownWarning
	return true
}

// statusMessage renders the human-readable progress line for one iteration.
func statusMessage(kind TaskKind, iteration int, lastTool string) string {
	if lastTool == "" {
		switch kind {
		case TaskSearch:
			return "searching notes"
		case TaskRefactor:
			return "planning reorganization"
		default:
			return "reading the hierarchy"
		}
	}
	return fmt.Sprintf("step %d: %s", iteration+1, strings.ReplaceAll(lastTool, "_", " "))
}
