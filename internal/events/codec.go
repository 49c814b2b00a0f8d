package events

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alanyoungcy/betledger/internal/domain"
)

// Encode renders e as a protobuf Struct in wire format. The fields are those
// of domain.Event.Detail.
func Encode(e domain.Event) ([]byte, error) {
	s, err := structpb.NewStruct(e.Detail())
	if err != nil {
		return nil, fmt.Errorf("events: encode %s: %w", e.Type, err)
	}
	b, err := proto.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("events: marshal %s: %w", e.Type, err)
	}
	return b, nil
}

// Decode parses a payload produced by Encode back into a field map. Numbers
// come back as float64.
func Decode(data []byte) (map[string]any, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("events: unmarshal: %w", err)
	}
	return s.AsMap(), nil
}
