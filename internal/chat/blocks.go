package chat

// Block is one element of a rich message layout.
type Block struct {
	Type     string    `json:"type"`
	Text     *Text     `json:"text,omitempty"`
	Elements []Element `json:"elements,omitempty"`
}

// Text is a text object inside a block.
type Text struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

// Element is an interactive element (button) inside an actions block.
type Element struct {
	Type     string `json:"type"`
	Text     *Text  `json:"text,omitempty"`
	Style    string `json:"style,omitempty"`
	Value    string `json:"value,omitempty"`
	ActionID string `json:"action_id"`
}

// ConsentBlocks renders the accept/decline prompt shown to the uploader of
// a potentially sensitive file.
func ConsentBlocks() []Block {
	return []Block{
		{
			Type: "section",
			Text: &Text{Type: "mrkdwn", Text: "Hi :wave:"},
		},
		{
			Type: "section",
			Text: &Text{
				Type: "mrkdwn",
				Text: "I see that you shared a potentially sensitive document. It's typically good security practice to keep these files in a secure location such as Google Drive.\n\nGoogle Drive is significantly more secure because:",
			},
		},
		{
			Type: "section",
			Text: &Text{
				Type: "mrkdwn",
				Text: "• It handles auth sessions more securely\n• It has a granular permission structure\n• Your security team has much better visibility and control over Drive than chat",
			},
		},
		{
			Type: "section",
			Text: &Text{
				Type: "mrkdwn",
				Text: "*I can upload the file to your Drive for you and share it with everyone in this channel.* Would you like me to do that?",
			},
		},
		{
			Type: "actions",
			Elements: []Element{
				{
					Type:     "button",
					Text:     &Text{Type: "plain_text", Text: "Yes", Emoji: true},
					Style:    "primary",
					Value:    "accept",
					ActionID: ActionAccept,
				},
				{
					Type:     "button",
					Text:     &Text{Type: "plain_text", Text: "No", Emoji: true},
					Style:    "danger",
					Value:    "decline",
					ActionID: ActionDecline,
				},
			},
		},
	}
}
