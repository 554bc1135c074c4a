package gateway

import "agenthost/internal/domain"

// FrameType identifies the kind of frame sent over the WebSocket connection.
type FrameType string

const (
	FrameTypeHello FrameType = "hello"
	FrameTypeEvent FrameType = "event"
)

// Frame is the envelope the feed writes to clients. Seq counts frames per
// connection so a client can tell when events were dropped.
type Frame struct {
	Type   FrameType     `json:"type"`
	Seq    uint64        `json:"seq"`
	Client string        `json:"client,omitempty"` // hello only
	Event  *domain.Event `json:"event,omitempty"`  // event only
}
