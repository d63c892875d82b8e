package mailsync

// State is a step of a sync invocation. It is only used for logging.
type State int

const (
	StateIdle State = iota
	StateAuthorizing
	StateConnectingMailbox
	StateSyncingInbox
	StateSyncingSent
	StateUpdatingMetadata
	StateEnqueueingAnalysis
	StateDone
	StateError
)

var stateNames = [...]string{
	StateIdle:               "idle",
	StateAuthorizing:        "authorizing",
	StateConnectingMailbox:  "connecting_mailbox",
	StateSyncingInbox:       "syncing_folder(INBOX)",
	StateSyncingSent:        "syncing_folder(Sent)",
	StateUpdatingMetadata:   "updating_metadata",
	StateEnqueueingAnalysis: "enqueueing_background_analysis",
	StateDone:               "done",
	StateError:              "error",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}
