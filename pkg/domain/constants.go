package domain

// Reserved variable names injected into the transient layer of the variable context.
const (
	// VarBotMXID is the identity of the client (bot) driving the conversation.
	VarBotMXID = "bot_mxid"
	// VarCustomerRoomID is the room the conversation belongs to.
	VarCustomerRoomID = "customer_room_id"
	// VarInput holds the literal text of the message being consumed by an input node.
	VarInput = "input"
)

// Well-known outcome keys.
const (
	OutcomeDefault = "default"
	OutcomeTimeout = "timeout"
	OutcomeTrue    = "true"
	OutcomeFalse   = "false"
)
