// Package prompt assembles the exact model input for one generation: the
// system instructions plus the chronological turn history.
package prompt

import (
	"fmt"
	"strings"

	"voltiq/internal/provider"
	"voltiq/internal/store"
)

// Message is one entry of the assembled model input.
type Message struct {
	Role    string
	Content string
}

// Prompt is the assembled model input. The single system message of the
// conversation becomes the System field, the way the messages API expects
// it; Messages holds the turn history in chronological order, ending with
// the newest user turn.
type Prompt struct {
	System   string
	Messages []Message
}

// Assemble builds the model input from the turn history and the tool
// catalog. It is a pure function: the history slice is never mutated.
func Assemble(history []store.Turn, catalog []provider.ToolSchema) *Prompt {
	messages := make([]Message, 0, len(history))
	for _, turn := range history {
		messages = append(messages, Message{Role: turn.Role, Content: turn.Content})
	}

	return &Prompt{
		System:   systemPrompt(catalog),
		Messages: messages,
	}
}

// systemPrompt renders the tool usage policy, formatting policy, chart
// decision policy and multi-tool policy into one system message.
func systemPrompt(catalog []provider.ToolSchema) string {
	var b strings.Builder

	b.WriteString("You are Jake, the VoltIQ energy assistant. You answer questions about ")
	b.WriteString("the facility's electricity usage using the data tools below. Never invent ")
	b.WriteString("usage numbers: if a tool reports no data, say so plainly.\n\n")

	b.WriteString("Available tools:\n")
	for _, tool := range catalog {
		b.WriteString(fmt.Sprintf("- %s: %s\n", tool.Name, tool.Description))
	}

	b.WriteString(`
Formatting policy:
- Report usage values in kWh with two decimal places.
- Dates use MM/DD and times use HH:mm, matching the dataset keys.
- Percentages carry a sign and two decimals, e.g. +12.50%.

Chart policy:
- When the user asks for a chart, graph, trend, or analysis, keep any JSON
  chart payload a tool returns in your response verbatim, after your text
  summary. Otherwise answer in plain text and omit chart payloads.

Tool call policy:
- Prefer a single tool call; use at most three for compound questions.
- For comparisons between two periods always use compare_power_usage rather
  than calling a rollup tool twice.
`)

	return b.String()
}
