package serializer

import (
	"encoding/json"
	"errors"

	"github.com/rbaliyan/eventscope"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Proto implements Codec with a protobuf structpb.Struct envelope.
//
// JSON-like payloads (maps, slices, strings, numbers, bools) are converted
// directly. Other values such as structs are normalized through their JSON
// form first.
type Proto struct{}

// Encode serializes the event as a binary structpb.Struct.
func (Proto) Encode(ev eventscope.Event) ([]byte, error) {
	fields := map[string]*structpb.Value{
		"name": structpb.NewStringValue(ev.Name),
	}
	if ev.Payload != nil {
		v, err := toValue(ev.Payload)
		if err != nil {
			return nil, errors.Join(ErrEncodeFailure, err)
		}
		fields["payload"] = v
	}
	data, err := proto.Marshal(&structpb.Struct{Fields: fields})
	if err != nil {
		return nil, errors.Join(ErrEncodeFailure, err)
	}
	return data, nil
}

// Decode parses a structpb.Struct envelope. Numbers come back as float64.
func (Proto) Decode(data []byte) (eventscope.Event, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return eventscope.Event{}, errors.Join(ErrDecodeFailure, err)
	}
	name := s.GetFields()["name"].GetStringValue()
	if name == "" {
		return eventscope.Event{}, errors.Join(ErrDecodeFailure, eventscope.ErrMissingEventName)
	}
	ev := eventscope.Event{Name: name}
	if v, ok := s.GetFields()["payload"]; ok {
		ev.Payload = v.AsInterface()
	}
	return ev, nil
}

// ContentType returns "application/x-protobuf".
func (Proto) ContentType() string {
	return "application/x-protobuf"
}

// Name returns "proto".
func (Proto) Name() string {
	return "proto"
}

func toValue(payload any) (*structpb.Value, error) {
	if v, err := structpb.NewValue(payload); err == nil {
		return v, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return structpb.NewValue(generic)
}

var _ Codec = Proto{}

func init() {
	Register(Proto{})
}
