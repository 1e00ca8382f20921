package sessions

// ThreadContext captures the platform thread linkage of one message.
// A message with no root id is top-level; its own id becomes the thread id
// for any later replies.
type ThreadContext struct {
	RootID        string
	ParentID      string
	IsThreadReply bool
	ReplyToID     string // parent if present, else root; empty for top-level
	ThreadID      string
}

// ResolveThread derives the thread linkage for a message from its platform
// root and parent ids. IsThreadReply holds exactly when a root id is
// present.
func ResolveThread(rootID, parentID, messageID string) ThreadContext {
	if rootID == "" {
		return ThreadContext{
			ParentID: parentID,
			ThreadID: messageID,
		}
	}
	replyTo := parentID
	if replyTo == "" {
		replyTo = rootID
	}
	return ThreadContext{
		RootID:        rootID,
		ParentID:      parentID,
		IsThreadReply: true,
		ReplyToID:     replyTo,
		ThreadID:      rootID,
	}
}
