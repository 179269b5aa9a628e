package serializer

import (
	"errors"
	"fmt"
	"mime"
	"strings"
	"sync"

	"github.com/rbaliyan/eventscope"
)

// ErrUnknownContentType is returned when no codec serves a content type.
var ErrUnknownContentType = errors.New("unknown content type")

// codecs indexes the known codecs by media type. Forwarding handlers stamp
// every message with their codec's content type, which is what a consumer
// hands back to Decode.
var codecs = struct {
	sync.RWMutex
	byType map[string]Codec
}{
	byType: map[string]Codec{"application/json": JSON{}},
}

// Register makes codec available to Lookup and Decode under its content
// type. A later registration for the same type replaces the earlier one.
func Register(codec Codec) {
	codecs.Lock()
	codecs.byType[mediaType(codec.ContentType())] = codec
	codecs.Unlock()
}

// Lookup finds the codec for a content type. Parameters and case are
// ignored, so "Application/JSON; charset=utf-8" resolves to JSON.
func Lookup(contentType string) (Codec, error) {
	mt := mediaType(contentType)
	codecs.RLock()
	c, ok := codecs.byType[mt]
	codecs.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownContentType, contentType)
	}
	return c, nil
}

// Decode restores an event from a forwarded message using the codec named
// by its content type header.
//
//	ct := msg.Header.Get(nats.HeaderContentType)
//	ev, err := serializer.Decode(ct, msg.Data)
func Decode(contentType string, data []byte) (eventscope.Event, error) {
	c, err := Lookup(contentType)
	if err != nil {
		return eventscope.Event{}, errors.Join(ErrDecodeFailure, err)
	}
	return c.Decode(data)
}

func mediaType(contentType string) string {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		return mt
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}
