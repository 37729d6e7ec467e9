package repo

import "fmt"

// Key layout:
//
//	ChatSession  USER#{userId} / SESSION#{sessionId}
//	             DS#{dataSourceId} / SESSION#{sessionId}   (lookup mirror)
//	Message      SESSION#{sessionId} / MSG#{messageIndex:06d}#{messageId}
//
// The zero-padded message index makes lexicographic sort-key order equal to
// conversation order, so prefix queries come back in message-index order for
// free. Edit forks reuse the original's index; the message id suffix keeps
// the sort key unique.

const (
	sessionSortPrefix = "SESSION#"
	messageSortPrefix = "MSG#"
)

func userPartition(userID int64) string {
	return fmt.Sprintf("USER#%d", userID)
}

func dataSourcePartition(dataSourceID int64) string {
	return fmt.Sprintf("DS#%d", dataSourceID)
}

func sessionSort(sessionID string) string {
	return sessionSortPrefix + sessionID
}

func sessionPartition(sessionID string) string {
	return "SESSION#" + sessionID
}

func messageSort(messageIndex int, messageID string) string {
	return fmt.Sprintf("MSG#%06d#%s", messageIndex, messageID)
}
