package realtime

import "strings"

// AIMarker is the literal that routes a chat message to the assistant.
// Matching is case-insensitive everywhere.
const AIMarker = "@ai"

// Channel is the UI chat channel a message belongs to.
type Channel string

const (
	// ChannelTeam is the human-to-human chat.
	ChannelTeam Channel = "team"
	// ChannelAI is the assistant conversation.
	ChannelAI Channel = "ai"
)

// ContainsMarker reports whether the text case-insensitively contains the
// assistant marker.
func ContainsMarker(text string) bool {
	return strings.Contains(strings.ToLower(text), AIMarker)
}

// IsAITargeted decides whether an outgoing message is for the assistant:
// either the active channel is the AI one, or the text carries the marker.
func IsAITargeted(text string, channel Channel) bool {
	return channel == ChannelAI || ContainsMarker(text)
}

// TagOutgoing returns the canonical wire text for an outgoing message. An
// AI-targeted message without the marker gets it prepended exactly once, so
// downstream detection is uniform; text already carrying the marker is
// never tagged twice.
func TagOutgoing(text string, channel Channel) string {
	if channel == ChannelAI && !ContainsMarker(text) {
		return AIMarker + " " + text
	}
	return text
}

// ExtractPrompt strips the first marker occurrence (case-insensitively) and
// surrounding whitespace, yielding the text sent to the completion gateway.
func ExtractPrompt(text string) string {
	lower := strings.ToLower(text)
	index := strings.Index(lower, AIMarker)
	if index == -1 {
		return strings.TrimSpace(text)
	}
	stripped := text[:index] + text[index+len(AIMarker):]
	return strings.TrimSpace(stripped)
}

// RenderChannel decides which channel an incoming message renders in: the
// AI channel iff it is an assistant response or its text carries the
// marker, the team channel otherwise.
func RenderChannel(isAIResponse bool, text string) Channel {
	if isAIResponse || ContainsMarker(text) {
		return ChannelAI
	}
	return ChannelTeam
}
