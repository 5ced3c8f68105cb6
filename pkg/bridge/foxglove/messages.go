package foxglove

import "encoding/binary"

const (
	Subprotocol = "foxglove.websocket.v1"

	OpServerInfo  = "serverInfo"
	OpAdvertise   = "advertise"
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"

	BinaryOpMessageData = 0x01

	TransformSchemaName = "foxglove.FrameTransforms"
)

type ServerInfoMsg struct {
	Op                 string            `json:"op"`
	Name               string            `json:"name"`
	Capabilities       []string          `json:"capabilities"`
	SupportedEncodings []string          `json:"supportedEncodings,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	SessionID          string            `json:"sessionId,omitempty"`
}

type Channel struct {
	ID             uint64 `json:"id"`
	Topic          string `json:"topic"`
	Encoding       string `json:"encoding"`
	SchemaName     string `json:"schemaName"`
	SchemaEncoding string `json:"schemaEncoding,omitempty"`
	Schema         string `json:"schema,omitempty"`
}

type AdvertiseMsg struct {
	Op       string    `json:"op"`
	Channels []Channel `json:"channels"`
}

type Subscription struct {
	ID        uint32 `json:"id"`
	ChannelID uint64 `json:"channelId"`
}

type SubscribeMsg struct {
	Op            string         `json:"op"`
	Subscriptions []Subscription `json:"subscriptions"`
}

type UnsubscribeMsg struct {
	Op              string   `json:"op"`
	SubscriptionIDs []uint32 `json:"subscriptionIds"`
}

// ReadingMessage is the JSON payload of the reading channel.
type ReadingMessage struct {
	TS     string  `json:"ts,omitempty"`
	Remote string  `json:"remote,omitempty"`
	W      float64 `json:"w"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Z      float64 `json:"z"`
	RawHex string  `json:"raw_hex"`
}

type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type Quaternion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

type FrameTime struct {
	Sec  uint32 `json:"sec"`
	Nsec uint32 `json:"nsec"`
}

type FrameTransformMessage struct {
	Timestamp     FrameTime  `json:"timestamp"`
	ParentFrameID string     `json:"parent_frame_id"`
	ChildFrameID  string     `json:"child_frame_id"`
	Translation   Vector3    `json:"translation"`
	Rotation      Quaternion `json:"rotation"`
}

type FrameTransformsMessage struct {
	Transforms []FrameTransformMessage `json:"transforms"`
}

func EncodeMessageData(subscriptionID uint32, logTime uint64, payload []byte) []byte {
	out := make([]byte, 1+4+8+len(payload))
	out[0] = BinaryOpMessageData
	binary.LittleEndian.PutUint32(out[1:5], subscriptionID)
	binary.LittleEndian.PutUint64(out[5:13], logTime)
	copy(out[13:], payload)
	return out
}
