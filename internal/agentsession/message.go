// Package agentsession implements the agent session (spec §4.F): a bound
// (user, model, system-prompt, tool-set) that owns conversational history
// and exposes Converse, which drives the upstream model, dispatches tool
// calls through the MCP supervisor, and emits canonical stream events.
package agentsession

// Role is the role of one Message in history (spec §3: {system, user,
// assistant}; tool turns are modeled as a content block, not a role, to
// match what both upstream providers expect on re-send).
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType names one kind of content block.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockImage      BlockType = "image"
	BlockFile       BlockType = "file"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is one typed piece of a Message (spec §3).
type ContentBlock struct {
	Type BlockType

	Text string

	// Image / File blocks: either an inline base64 payload or a reference
	// URL; exactly one is populated.
	InlineBase64 string
	URL          string
	MIMEType     string

	// ToolUse blocks.
	ToolUseID string
	ToolName  string
	ToolInput string // JSON

	// ToolResult blocks.
	ToolResultFor string // the ToolUseID this result answers
	IsError       bool
}

// Message is one turn of conversational history.
type Message struct {
	Role    Role
	Content []ContentBlock
}

func textMessage(role Role, text string) Message {
	return Message{Role: role, Content: []ContentBlock{{Type: BlockText, Text: text}}}
}
