package bus

import (
	"fmt"
	"strings"
)

// Kind is the third segment of a topic triple.
type Kind string

// Message kinds.
const (
	// KindRequest expects a correlated KindResponse.
	KindRequest Kind = "req"

	// KindResponse answers a KindRequest.
	KindResponse Kind = "res"

	// KindCall is a one-way notification.
	KindCall Kind = "call"
)

// Wildcard matches any session key when used in a subscription pattern.
const Wildcard = "*"

// topicSeparator joins the triple segments in String().
const topicSeparator = "/"

// Topic addresses a bus message.
type Topic struct {
	Event      string
	SessionKey string
	Kind       Kind
}

// Request returns the req topic for event and session key.
func Request(event, sessionKey string) Topic {
	return Topic{Event: event, SessionKey: sessionKey, Kind: KindRequest}
}

// Response returns the res topic for event and session key.
func Response(event, sessionKey string) Topic {
	return Topic{Event: event, SessionKey: sessionKey, Kind: KindResponse}
}

// Call returns the call topic for event and session key.
func Call(event, sessionKey string) Topic {
	return Topic{Event: event, SessionKey: sessionKey, Kind: KindCall}
}

// String renders the topic as "event/sessionKey/kind".
func (t Topic) String() string {
	return strings.Join([]string{t.Event, t.SessionKey, string(t.Kind)}, topicSeparator)
}

// Validate reports whether the topic can be published.
// Published topics must be fully qualified: no empty segment and no wildcard.
func (t Topic) Validate() error {
	switch {
	case t.Event == "":
		return fmt.Errorf("%w: empty event", ErrInvalidTopic)
	case t.SessionKey == "":
		return fmt.Errorf("%w: empty session key", ErrInvalidTopic)
	case t.SessionKey == Wildcard:
		return fmt.Errorf("%w: wildcard session key in %s", ErrInvalidTopic, t)
	}

	switch t.Kind {
	case KindRequest, KindResponse, KindCall:
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidTopic, t.Kind)
	}
}

// Matches reports whether topic is delivered to a subscriber of pattern t.
// Only the session key segment supports the wildcard.
func (t Topic) Matches(topic Topic) bool {
	if t.Event != topic.Event || t.Kind != topic.Kind {
		return false
	}
	return t.SessionKey == Wildcard || t.SessionKey == topic.SessionKey
}
