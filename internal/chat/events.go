package chat

import "context"

// Decision is the user's answer to the consent prompt.
type Decision string

const (
	DecisionAccept  Decision = "accept"
	DecisionDecline Decision = "decline"
)

// Interactive action ids wired into the consent prompt buttons.
const (
	ActionAccept  = "accept_action"
	ActionDecline = "decline_action"
)

// FileVisibleEvent fires when a file becomes visible in a channel. The
// delivery layer resolves file name and channel via files.info before
// dispatch when the wire event carries only the file id.
type FileVisibleEvent struct {
	FileID      string
	FileName    string
	ChannelID   string
	UploaderID  string
	DownloadURL string
}

// DecisionEvent fires when the uploader clicks one of the prompt buttons.
type DecisionEvent struct {
	Decision        Decision
	PromptMessageID string
	ChannelID       string
	UserID          string
	ResponseURL     string
}

// CommandEvent fires when a user invokes the slash command.
type CommandEvent struct {
	UserID      string
	ChannelID   string
	Text        string
	ResponseURL string
}

// Handlers receives dispatched events. Both delivery transports (direct
// HTTP and socket mode) feed the same set.
type Handlers interface {
	HandleFileVisible(ctx context.Context, ev FileVisibleEvent)
	HandleDecision(ctx context.Context, ev DecisionEvent)
	HandleCommand(ctx context.Context, ev CommandEvent)
}
