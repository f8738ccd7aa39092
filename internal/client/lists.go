// ABOUTME: Pure list reducers for the contact and channel sidebars
// ABOUTME: Promote-to-front on activity, replacing the splice+unshift mutations

package client

import (
	"github.com/samber/lo"
)

// Contact is a sidebar entry for a DM peer.
type Contact struct {
	ID          string
	DisplayName string
}

// PromoteContact moves the contact with the given id to the front of a new
// list. When the contact is not present yet (first message from a new
// peer), it is inserted at the front.
func PromoteContact(contacts []Contact, contact Contact) []Contact {
	rest := lo.Filter(contacts, func(c Contact, _ int) bool {
		return c.ID != contact.ID
	})

	promoted := contact
	if existing, ok := lo.Find(contacts, func(c Contact) bool { return c.ID == contact.ID }); ok {
		promoted = existing
	}

	return append([]Contact{promoted}, rest...)
}

// PromoteChannel moves the channel with the given id to the front of a new
// list. Unknown ids leave the list unchanged: channel membership arrives
// through its own flow, not through message activity.
func PromoteChannel(channelIDs []string, channelID string) []string {
	if !lo.Contains(channelIDs, channelID) {
		return append([]string{}, channelIDs...)
	}

	rest := lo.Filter(channelIDs, func(id string, _ int) bool {
		return id != channelID
	})
	return append([]string{channelID}, rest...)
}

// ApplyPresence folds a user-online or user-offline transition into a new
// snapshot set.
func ApplyPresence(online []string, userID string, isOnline bool) []string {
	if isOnline {
		if lo.Contains(online, userID) {
			return append([]string{}, online...)
		}
		return append(append([]string{}, online...), userID)
	}
	return lo.Filter(online, func(id string, _ int) bool {
		return id != userID
	})
}
