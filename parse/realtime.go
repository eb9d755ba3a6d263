package parse

import (
	"fmt"

	gtfsproto "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"
)

// DecodeRealtime unmarshals a raw GTFS Realtime payload. A zero
// entity feed is a legitimate result, not an error.
func DecodeRealtime(payload []byte) (*gtfsproto.FeedMessage, error) {
	feed := &gtfsproto.FeedMessage{}
	if err := proto.Unmarshal(payload, feed); err != nil {
		return nil, fmt.Errorf("unmarshaling protobuf: %w", err)
	}
	return feed, nil
}
