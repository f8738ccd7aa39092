// ABOUTME: Conversation bucket keys for DM pairs and channels
// ABOUTME: A DM conversation is keyed by the unordered user id pair

package store

// DirectConversationID returns the conversation key for a DM between two
// users. The key is the same regardless of argument order, so both
// directions of a conversation land in one bucket.
func DirectConversationID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return "dm:" + a + ":" + b
}

// ChannelConversationID returns the conversation key for a channel.
func ChannelConversationID(channelID string) string {
	return "ch:" + channelID
}
