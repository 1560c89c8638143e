package domain

// StateDiff represents the changes between two snapshots of a conversation.
// It is designed to be serialized to JSON for partial updates on subscribers.
type StateDiff struct {
	// Conversation is always present to identify the target.
	Conversation string `json:"conversation"`

	NodeID *string `json:"node_id,omitempty"`

	State *LifecycleState `json:"state,omitempty"`

	// Variables contains only changed, added or deleted keys.
	// For deletions, the key is present with a nil value.
	Variables map[string]any `json:"variables,omitempty"`
}

// Diff calculates the difference between oldConv and newConv.
// If oldConv is nil, it returns a diff representing the entire newConv (initial load).
// It returns nil when nothing changed.
func Diff(oldConv, newConv *Conversation) *StateDiff {
	if newConv == nil {
		return nil
	}

	diff := &StateDiff{
		Conversation: newConv.Key.String(),
	}

	if oldConv == nil || oldConv.NodeID != newConv.NodeID {
		diff.NodeID = &newConv.NodeID
	}
	if oldConv == nil || oldConv.State != newConv.State {
		diff.State = &newConv.State
	}
	diff.Variables = diffVariables(oldConv, newConv)

	if diff.IsEmpty() {
		return nil
	}
	return diff
}

func diffVariables(old *Conversation, new *Conversation) map[string]any {
	delta := make(map[string]any)

	if old == nil {
		for k, v := range new.Variables {
			delta[k] = v
		}
		if len(delta) == 0 {
			return nil
		}
		return delta
	}

	for k, newVal := range new.Variables {
		if oldVal, exists := old.Variables[k]; !exists || oldVal != newVal {
			delta[k] = newVal
		}
	}
	for k := range old.Variables {
		if _, exists := new.Variables[k]; !exists {
			delta[k] = nil
		}
	}

	if len(delta) == 0 {
		return nil
	}
	return delta
}

// IsEmpty checks if the diff contains any actionable changes.
func (d *StateDiff) IsEmpty() bool {
	return d.NodeID == nil &&
		d.State == nil &&
		len(d.Variables) == 0
}
