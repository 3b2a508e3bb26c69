package bus

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// newPayload returns a pointer to the zero payload carried on topic's
// event and kind, or nil if the pair is not part of the protocol.
func newPayload(topic Topic) any {
	switch topic.Kind {
	case KindRequest:
		switch topic.Event {
		case EventConnect:
			return &ConnectRequest{}
		case EventSubscribe:
			return &SubscribeRequest{}
		case EventUnsubscribe:
			return &UnsubscribeRequest{}
		case EventPublishFromClient:
			return &PublishFromClientRequest{}
		case EventPublishToClient:
			return &PublishToClientRequest{}
		}
	case KindResponse:
		switch topic.Event {
		case EventConnect:
			return &ConnectResponse{}
		case EventSubscribe:
			return &SubscribeResponse{}
		case EventUnsubscribe:
			return &UnsubscribeResponse{}
		case EventPublishFromClient:
			return &PublishFromClientResponse{}
		case EventPublishToClient:
			return &PublishToClientResponse{}
		}
	case KindCall:
		if topic.Event == EventDisconnect {
			return &DisconnectCall{}
		}
	}
	return nil
}

// DecodePayload decodes JSON data into the payload type carried on topic.
// The result is a value (not a pointer), as published by the bridge.
//
// Returns:
//   - any: e.g. SubscribeRequest for brokerSubscribe/<key>/req
//   - error: ErrUnknownPayload for topics outside the protocol, or a
//     JSON decoding error
func DecodePayload(topic Topic, data []byte) (any, error) {
	ptr := newPayload(topic)
	if ptr == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPayload, topic)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, ptr); err != nil {
			return nil, fmt.Errorf("decoding %s payload: %w", topic, err)
		}
	}

	switch p := ptr.(type) {
	case *ConnectRequest:
		return *p, nil
	case *ConnectResponse:
		return *p, nil
	case *SubscribeRequest:
		return *p, nil
	case *SubscribeResponse:
		return *p, nil
	case *UnsubscribeRequest:
		return *p, nil
	case *UnsubscribeResponse:
		return *p, nil
	case *PublishFromClientRequest:
		return *p, nil
	case *PublishFromClientResponse:
		return *p, nil
	case *PublishToClientRequest:
		return *p, nil
	case *PublishToClientResponse:
		return *p, nil
	default:
		return *(ptr.(*DisconnectCall)), nil
	}
}

// NormalizePayload returns payload as the value type carried on topic.
//
// Publishers on the in-process bus may send the payload struct by value
// or by pointer, raw JSON ([]byte or json.RawMessage), or any other value
// whose JSON form matches (e.g. a map decoded from a client frame).
//
// Returns:
//   - any: e.g. SubscribeRequest for brokerSubscribe/<key>/req
//   - error: ErrUnknownPayload for topics outside the protocol, or
//     ErrMalformedPayload when payload is nil or cannot be converted
func NormalizePayload(topic Topic, payload any) (any, error) {
	ptr := newPayload(topic)
	if ptr == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPayload, topic)
	}
	want := reflect.TypeOf(ptr).Elem()

	var data []byte
	switch p := payload.(type) {
	case nil:
		return nil, fmt.Errorf("%w: %s has no payload", ErrMalformedPayload, topic)
	case []byte:
		data = p
	case json.RawMessage:
		data = p
	default:
		v := reflect.ValueOf(payload)
		if v.Type() == want {
			return payload, nil
		}
		if v.Kind() == reflect.Pointer && v.Type().Elem() == want {
			if v.IsNil() {
				return nil, fmt.Errorf("%w: %s has a nil payload", ErrMalformedPayload, topic)
			}
			return v.Elem().Interface(), nil
		}
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrMalformedPayload, topic, err)
		}
		data = encoded
	}

	out, err := DecodePayload(topic, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	return out, nil
}

// MsgIDOf reads the msgId field of an arbitrary payload, so a malformed
// request can still be answered on its correlation id.
func MsgIDOf(payload any) (int, bool) {
	var data []byte
	switch p := payload.(type) {
	case nil:
		return 0, false
	case []byte:
		data = p
	case json.RawMessage:
		data = p
	default:
		encoded, err := json.Marshal(payload)
		if err != nil {
			return 0, false
		}
		data = encoded
	}

	var head struct {
		MsgID *int `json:"msgId"`
	}
	if err := json.Unmarshal(data, &head); err != nil || head.MsgID == nil {
		return 0, false
	}
	return *head.MsgID, true
}

// ParseTopic parses the "event/sessionKey/kind" form produced by
// Topic.String. The result is validated for publishing.
func ParseTopic(s string) (Topic, error) {
	parts := strings.Split(s, topicSeparator)
	if len(parts) != 3 {
		return Topic{}, fmt.Errorf("%w: %q", ErrInvalidTopic, s)
	}

	t := Topic{Event: parts[0], SessionKey: parts[1], Kind: Kind(parts[2])}
	if err := t.Validate(); err != nil {
		return Topic{}, err
	}
	return t, nil
}
