package actionqueue

import "encoding/json"

// Standard action kinds understood by DefaultPriorities.
const (
	KindCompleteQuest = "completeQuest"
	KindPurchaseItem  = "purchaseItem"
	KindClaimReward   = "claimReward"
	KindUpdateProfile = "updateProfile"
	KindSaveSettings  = "saveSettings"
	KindLogAnalytics  = "logAnalytics"
)

// Action is one state-changing operation intended for the backend.
type Action struct {
	// Kind identifies the operation (e.g., "completeQuest") and drives its priority.
	Kind string
	// Payload is the JSON body of the operation.
	Payload json.RawMessage
}

// Validate checks required fields and JSON validity.
func (a Action) Validate() error {
	return ValidateAction(a.Kind, a.Payload)
}

// ValidateAction validates a kind/payload pair before it is sent or queued.
func ValidateAction(kind string, payload json.RawMessage) error {
	if kind == "" {
		return ErrKindRequired
	}
	if len(payload) == 0 {
		return ErrPayloadRequired
	}
	if !json.Valid(payload) {
		return ErrInvalidPayload
	}

	return nil
}
