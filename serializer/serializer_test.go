package serializer

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rbaliyan/eventscope"
)

type signup struct {
	Email    string `json:"email" msgpack:"email"`
	Verified bool   `json:"verified" msgpack:"verified"`
}

func TestCodecs(t *testing.T) {
	codecs := []Codec{JSON{}, MsgPack{}, Proto{}}

	for _, codec := range codecs {
		t.Run(codec.Name(), func(t *testing.T) {
			t.Run("map payload", func(t *testing.T) {
				ev := eventscope.Event{
					Name: "user_created",
					Payload: map[string]any{
						"user":   "ada",
						"admin":  true,
						"groups": []any{"ops", "dev"},
					},
				}
				data, err := codec.Encode(ev)
				if err != nil {
					t.Fatalf("Encode failed: %v", err)
				}
				got, err := codec.Decode(data)
				if err != nil {
					t.Fatalf("Decode failed: %v", err)
				}
				if diff := cmp.Diff(ev, got); diff != "" {
					t.Errorf("event mismatch (-want +got):\n%s", diff)
				}
			})

			t.Run("struct payload decodes as map", func(t *testing.T) {
				ev := eventscope.Event{Name: "signup", Payload: signup{Email: "a@b.c", Verified: true}}
				data, err := codec.Encode(ev)
				if err != nil {
					t.Fatalf("Encode failed: %v", err)
				}
				got, err := codec.Decode(data)
				if err != nil {
					t.Fatalf("Decode failed: %v", err)
				}
				want := map[string]any{"email": "a@b.c", "verified": true}
				if diff := cmp.Diff(want, got.Payload); diff != "" {
					t.Errorf("payload mismatch (-want +got):\n%s", diff)
				}
			})

			t.Run("nil payload", func(t *testing.T) {
				data, err := codec.Encode(eventscope.Event{Name: "ping"})
				if err != nil {
					t.Fatalf("Encode failed: %v", err)
				}
				got, err := codec.Decode(data)
				if err != nil {
					t.Fatalf("Decode failed: %v", err)
				}
				if got.Name != "ping" || got.Payload != nil {
					t.Errorf("unexpected event %+v", got)
				}
			})

			t.Run("garbage", func(t *testing.T) {
				if _, err := codec.Decode([]byte{0xff, 0x00, 0x13}); !errors.Is(err, ErrDecodeFailure) {
					t.Errorf("expected ErrDecodeFailure, got %v", err)
				}
			})
		})
	}
}

func TestEncodeFailure(t *testing.T) {
	ev := eventscope.Event{Name: "bad", Payload: map[string]any{"ch": make(chan int)}}
	for _, codec := range []Codec{JSON{}, Proto{}} {
		if _, err := codec.Encode(ev); !errors.Is(err, ErrEncodeFailure) {
			t.Errorf("%s: expected ErrEncodeFailure, got %v", codec.Name(), err)
		}
	}
}

func TestMissingName(t *testing.T) {
	if _, err := (JSON{}).Decode([]byte(`{"payload":1}`)); !errors.Is(err, eventscope.ErrMissingEventName) {
		t.Errorf("expected ErrMissingEventName, got %v", err)
	}
}

func TestRegistry(t *testing.T) {
	for _, ct := range []string{"application/json", "application/msgpack", "application/x-protobuf"} {
		c, err := Lookup(ct)
		if err != nil {
			t.Errorf("expected codec for %s: %v", ct, err)
			continue
		}
		if c.ContentType() != ct {
			t.Errorf("expected %s, got %s", ct, c.ContentType())
		}
	}
	if c, err := Lookup("Application/JSON; charset=utf-8"); err != nil || c.Name() != "json" {
		t.Errorf("expected parameters and case to be ignored, got %v", err)
	}
	if _, err := Lookup("text/plain"); !errors.Is(err, ErrUnknownContentType) {
		t.Errorf("expected ErrUnknownContentType, got %v", err)
	}
	if Default().Name() != "json" {
		t.Error("expected JSON default")
	}
}

func TestDecodeByContentType(t *testing.T) {
	ev := eventscope.Event{Name: "user_created", Payload: map[string]any{"user": "ada"}}
	for _, codec := range []Codec{JSON{}, MsgPack{}, Proto{}} {
		t.Run(codec.Name(), func(t *testing.T) {
			data, err := codec.Encode(ev)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			got, err := Decode(codec.ContentType(), data)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if diff := cmp.Diff(ev, got); diff != "" {
				t.Errorf("event mismatch (-want +got):\n%s", diff)
			}
		})
	}

	_, err := Decode("text/plain", []byte("user_created"))
	if !errors.Is(err, ErrDecodeFailure) || !errors.Is(err, ErrUnknownContentType) {
		t.Errorf("expected decode failure for unknown type, got %v", err)
	}
}
