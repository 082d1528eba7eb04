package runner

import (
	"encoding/json"
	"time"
)

// claudeStreamLine mirrors the subset of Claude Code's --output-format
// stream-json schema the runner cares about: assistant/user message frames
// carrying content blocks, and a final result frame carrying usage.
type claudeStreamLine struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`
	Message struct {
		Content []struct {
			Type  string          `json:"type"`
			Text  string          `json:"text"`
			ID    string          `json:"id"`
			Name  string          `json:"name"`
			Input json.RawMessage `json:"input"`
		} `json:"content"`
	} `json:"message"`
	Result     string  `json:"result"`
	IsError    bool    `json:"is_error"`
	TotalCostU float64 `json:"total_cost_usd"`
	Usage      struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
	Model string `json:"model"`
}

// parseClaudeLine turns one line of Claude Code's stream-json output into a
// Message. Lines that don't parse as JSON are surfaced as raw output rather
// than dropped, since non-JSON diagnostic text does appear interleaved on
// stderr.
func parseClaudeLine(line string) Message {
	now := time.Now()
	var sl claudeStreamLine
	if err := json.Unmarshal([]byte(line), &sl); err != nil {
		return Message{Type: MessageOutput, Content: line, Raw: true, Timestamp: now}
	}

	switch sl.Type {
	case "assistant", "user":
		for _, block := range sl.Message.Content {
			switch block.Type {
			case "tool_use":
				var input map[string]any
				_ = json.Unmarshal(block.Input, &input)
				return Message{
					Type:      MessageToolCall,
					Content:   block.Name,
					ToolCall:  &ToolCall{ID: block.ID, Name: block.Name, Input: input},
					Timestamp: now,
				}
			case "tool_result":
				return Message{Type: MessageToolResult, Content: block.Text, Timestamp: now}
			case "text":
				if block.Text != "" {
					return Message{Type: MessageOutput, Content: block.Text, Timestamp: now}
				}
			}
		}
		return Message{Type: MessageOutput, Content: "", Timestamp: now}
	case "result":
		msgType := MessageResult
		if sl.IsError {
			msgType = MessageError
		}
		cost := sl.TotalCostU
		return Message{
			Type:      msgType,
			Content:   sl.Result,
			Timestamp: now,
			Usage: &Usage{
				InputTokens:  sl.Usage.InputTokens,
				OutputTokens: sl.Usage.OutputTokens,
				Cost:         &cost,
				Model:        sl.Model,
			},
		}
	default:
		return Message{Type: MessageOutput, Content: line, Raw: true, Timestamp: now}
	}
}

// genericJSONLine is a best-effort envelope most non-Claude CLIs that support
// a --json/--format json flag emit: a type tag plus free-form content.
type genericJSONLine struct {
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content string `json:"content"`
	Text    string `json:"text"`
	Tool    string `json:"tool"`
	Error   string `json:"error"`
}

func parseGenericJSONLine(line string) Message {
	now := time.Now()
	var gl genericJSONLine
	if err := json.Unmarshal([]byte(line), &gl); err != nil {
		return Message{Type: MessageOutput, Content: line, Raw: true, Timestamp: now}
	}
	content := gl.Content
	if content == "" {
		content = gl.Text
	}
	switch {
	case gl.Error != "":
		return Message{Type: MessageError, Content: gl.Error, Timestamp: now}
	case gl.Tool != "":
		return Message{Type: MessageToolCall, Content: gl.Tool, ToolCall: &ToolCall{Name: gl.Tool}, Timestamp: now}
	case gl.Type == "result" || gl.Type == "done":
		return Message{Type: MessageResult, Content: content, Timestamp: now}
	default:
		return Message{Type: MessageOutput, Content: content, Timestamp: now}
	}
}

// parseTextOnlyLine handles CLIs with no structured output mode (e.g.
// aider), treating every line as plain assistant output.
func parseTextOnlyLine(line string) Message {
	return Message{Type: MessageOutput, Content: line, Raw: true, Timestamp: time.Now()}
}
