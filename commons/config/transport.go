package config

// TransportConfig is an operator-tunable override of the transport's
// spec-default constants, loadable from JSON via LoadJSONFile. Every
// field's zero value means "use the package default" — normalize()
// callers apply the defaults, this struct only carries overrides.
type TransportConfig struct {
	ListenAddr string `json:"listen_addr"`
	LogLevel   string `json:"log_level,omitempty"`

	MaxPayload      int `json:"max_payload,omitempty"`
	MailboxCapacity int `json:"mailbox_capacity,omitempty"`

	RecvBufferSize int  `json:"recv_buffer_size,omitempty"`
	SendBufferSize int  `json:"send_buffer_size,omitempty"`
	V6Only         bool `json:"v6_only,omitempty"`

	CollectionInterval Duration `json:"collection_interval,omitempty"`
	DelayedACKTimeout  Duration `json:"delayed_ack_timeout,omitempty"`
	MaxFrameRateHz     int      `json:"max_frame_rate_hz,omitempty"`

	HandshakeTimeout Duration `json:"handshake_timeout,omitempty"`
}
