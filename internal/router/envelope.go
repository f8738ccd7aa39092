// ABOUTME: Outbound message envelope with a two-variant target
// ABOUTME: One tagged type replaces separate direct and channel send paths

package router

import (
	"time"
)

// Target is the destination of an outbound message: either a single user
// (DM) or a channel. Exactly two implementations exist.
type Target interface {
	isTarget()
}

// DirectTarget addresses the DM conversation with one recipient user.
type DirectTarget struct {
	Recipient string
}

func (DirectTarget) isTarget() {}

// ChannelTarget addresses every member (and the admin) of a channel.
type ChannelTarget struct {
	Channel string
}

func (ChannelTarget) isTarget() {}

// Envelope is a validated-then-routed outbound message. Content and
// AttachmentRef are mutually exclusive, selected by Kind.
type Envelope struct {
	Sender        string `validate:"required"`
	Kind          string `validate:"required,oneof=text file"`
	Content       string
	AttachmentRef string
	Target        Target
}

// Delivered is the wire payload pushed to each resolved session and echoed
// back to the sender as the send result.
type Delivered struct {
	ID            string    `json:"id"`
	Sender        string    `json:"sender"`
	Recipient     string    `json:"recipient,omitempty"`
	ChannelID     string    `json:"channelId,omitempty"`
	Kind          string    `json:"kind"`
	Content       string    `json:"content,omitempty"`
	AttachmentRef string    `json:"attachmentRef,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Live-channel event names.
const (
	EventReceiveDirect  = "receive-direct"
	EventReceiveChannel = "receive-channel"
	EventUserOnline     = "user-online"
	EventUserOffline    = "user-offline"
)
