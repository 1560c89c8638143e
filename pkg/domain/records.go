package domain

// Client is the credential/session row needed to drive the chat transport.
type Client struct {
	ID          string `json:"id"` // The bot identity (mxid)
	Homeserver  string `json:"homeserver"`
	AccessToken string `json:"access_token"`
	DeviceID    string `json:"device_id"`
	NextBatch   string `json:"next_batch"`
	FilterID    string `json:"filter_id"`
	Autojoin    bool   `json:"autojoin"`
}

// User maps a chat identity that belongs to the engine itself.
type User struct {
	ID   int64  `json:"id"`
	MXID string `json:"mxid"`
}

// EmailServer is an outbound SMTP server declared in the flow-utils document.
type EmailServer struct {
	ServerID string `json:"server_id" yaml:"server_id"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"-" yaml:"password"`
	StartTLS bool   `json:"start_tls" yaml:"start_tls"`
	From     string `json:"from,omitempty" yaml:"from"`
}
