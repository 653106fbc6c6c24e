// Package cliq implements the outbound integration with the Zoho Cliq chat
// platform: the message payload contract, the event formatter, and the
// webhook client with its retry policy.
//
// The payload shapes mirror what the Cliq message API accepts. Only Text is
// mandatory; everything else renders progressively richer cards on clients
// that support them. Other chat platforms can be targeted by swapping the
// formatter and client while keeping the dispatcher untouched.
package cliq

// Message is one outbound chat message. Text is the plain fallback; Card,
// Slides and Buttons are optional rich content.
type Message struct {
	Text    string   `json:"text"`
	Card    *Card    `json:"card,omitempty"`
	Slides  []Slide  `json:"slides,omitempty"`
	Buttons []Button `json:"buttons,omitempty"`

	// TargetUser addresses a bot message to one chat user. Set by the client
	// for direct sends, absent for channel sends.
	TargetUser *TargetUser `json:"target_user,omitempty"`

	// NotificationType echoes the event type for the receiving bot's routing.
	NotificationType string `json:"notification_type,omitempty"`
}

// Card is the header block of a rich message.
type Card struct {
	Title string `json:"title"`
	Theme string `json:"theme,omitempty"`
}

// Slide is one content block under the card. Type is "text" or "label"; Data
// holds a string for text slides and a list of single-pair maps for label
// slides.
type Slide struct {
	Type  string `json:"type"`
	Title string `json:"title,omitempty"`
	Data  any    `json:"data"`
}

// Button is a one-click follow-up action attached to a message.
type Button struct {
	Label  string `json:"label"`
	Type   string `json:"type"` // "+" (affirmative) or "-" (dismissive)
	Action Action `json:"action"`
}

// Action describes what a button press does: open a URL or invoke a named
// bot function with arguments.
type Action struct {
	Type string         `json:"type"` // "open.url" or "invoke.function"
	Data map[string]any `json:"data"`
}

// TargetUser identifies the chat-side recipient of a direct bot message and
// carries the application identity for the bot's own bookkeeping.
type TargetUser struct {
	ID        string `json:"id"`
	AppUserID string `json:"app_user_id,omitempty"`
}

// Standard card themes used by the formatter.
const (
	ThemeModern       = "modern"
	ThemeModernInline = "modern-inline"
)

// urlButton builds an open-URL button.
func urlButton(label, url string) Button {
	return Button{
		Label:  label,
		Type:   "+",
		Action: Action{Type: "open.url", Data: map[string]any{"web": url}},
	}
}

// invokeButton builds an invoke-function button with the given arguments.
func invokeButton(label, kind, fn string, args map[string]any) Button {
	data := map[string]any{"name": fn}
	for k, v := range args {
		data[k] = v
	}
	return Button{
		Label:  label,
		Type:   kind,
		Action: Action{Type: "invoke.function", Data: data},
	}
}
