package domain

// Message types understood by the transport.
const (
	MsgText             = "m.text"
	MsgNotice           = "m.notice"
	MsgImage            = "m.image"
	MsgVideo            = "m.video"
	MsgAudio            = "m.audio"
	MsgFile             = "m.file"
	MsgLocation         = "m.location"
	MsgInteractiveList  = "m.interactive.list_reply"
	MsgInteractiveQuick = "m.interactive.quick_reply"
)

// Message is an inbound chat event delivered to the interpreter.
type Message struct {
	EventID string `json:"event_id,omitempty"`
	Sender  string `json:"sender"`
	MsgType string `json:"msgtype,omitempty"`
	Body    string `json:"body"`
}

// MediaInfo describes an uploaded media reference.
type MediaInfo struct {
	MimeType string `json:"mimetype,omitempty" mapstructure:"mimetype"`
	Width    int    `json:"w,omitempty" mapstructure:"width"`
	Height   int    `json:"h,omitempty" mapstructure:"height"`
	Size     int    `json:"size,omitempty" mapstructure:"size"`
}

// Content is an outbound message payload.
type Content struct {
	MsgType string `json:"msgtype"`
	Body    string `json:"body"`

	// URL is the uploaded media reference (media messages only).
	URL  string     `json:"url,omitempty"`
	Info *MediaInfo `json:"info,omitempty"`

	// GeoURI is set on location messages.
	GeoURI string `json:"geo_uri,omitempty"`

	// Interactive carries the structured prompt of interactive inputs.
	Interactive map[string]any `json:"interactive_message,omitempty"`
}

// Email is an outbound email.
type Email struct {
	ServerID   string   `json:"server_id"`
	Subject    string   `json:"subject"`
	Recipients []string `json:"recipients"`
	Body       string   `json:"body"`
	Format     string   `json:"format,omitempty"` // "html" or "text"
}
