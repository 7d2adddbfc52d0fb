// Package domain holds the gateway's device-side state: the node identity,
// the contact directory and the message history.
package domain

// BroadcastID is the pseudo contact id used for channel broadcasts.
const BroadcastID = "!ffffffff"

// Message scopes.
const (
	ScopePrivate = "private"
	ScopeChannel = "channel"
)

// Message directions.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// ChannelSenderID marks inbound channel messages, whose sender cannot be
// attributed on this protocol version.
const ChannelSenderID = "mc:channel"

// SelfIdentity describes the local node as reported during the session
// handshake.
type SelfIdentity struct {
	ID            string
	Name          string
	PublicKey     []byte
	Latitude      float64
	Longitude     float64
	FreqMHz       float64
	BwKHz         float64
	SF            int
	CR            int
	TxPowerDBm    int
	MaxTxPowerDBm int
}

// DeviceInfo describes firmware capabilities as reported during the session
// handshake.
type DeviceInfo struct {
	FirmwareCode    int
	MaxContacts     int
	MaxChannels     int
	BuildDate       string
	Manufacturer    string
	FirmwareVersion string
}

// Contact is one known remote node.
type Contact struct {
	ID           string
	Prefix       [6]byte
	PublicKey    []byte
	Name         string
	Type         int
	Flags        int
	LastAdvert   uint32
	LastModified uint32
}

// Message is one chat history entry. The numeric peer fields are always zero
// on this mesh and exist for client compatibility.
type Message struct {
	Timestamp    int64  `json:"timestamp"`
	BootRelative bool   `json:"is_boot_relative"`
	Channel      int    `json:"channel"`
	Scope        string `json:"scope"`
	Direction    string `json:"direction"`
	SenderNum    int    `json:"sender_num"`
	SenderID     string `json:"sender_id"`
	ToNum        int    `json:"to_num"`
	ToID         string `json:"to_id"`
	PeerNum      int    `json:"peer_num"`
	PeerID       string `json:"peer_id"`
	Text         string `json:"text"`
	LocalID      string `json:"local_id,omitempty"`
}
