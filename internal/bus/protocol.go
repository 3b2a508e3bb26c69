package bus

import (
	"encoding/json"

	"github.com/nerrad567/gray-logic-mqttbridge/internal/brokerconfig"
)

// Event names used by the MQTT session bridge.
const (
	// EventConnect opens a session (req) and reports its outcome (res).
	EventConnect = "brokerConnect"

	// EventSubscribe subscribes the session to a broker topic filter.
	EventSubscribe = "brokerSubscribe"

	// EventUnsubscribe removes a broker subscription.
	EventUnsubscribe = "brokerUnsubscribe"

	// EventPublishFromClient publishes a message from the client to the broker.
	EventPublishFromClient = "brokerPublishFromClient"

	// EventPublishToClient delivers a broker message to the client (req)
	// and carries the client's acknowledgement back (res).
	EventPublishToClient = "brokerPublishToClient"

	// EventDisconnect asks a session to shut down (call).
	EventDisconnect = "brokerDisconnect"
)

// ConnectRequest is the payload of brokerConnect/*/req.
//
// Broker is the optional inline broker configuration. When nil, the
// dispatcher resolves the configuration for Identity.
type ConnectRequest struct {
	SessionKey   string               `json:"clientKey"`
	Identity     string               `json:"clientId"`
	HasWill      bool                 `json:"will"`
	WillTopic    string               `json:"willTopic,omitempty"`
	WillMessage  []byte               `json:"willMessage,omitempty"`
	CleanSession bool                 `json:"cleanSession"`
	Broker       *brokerconfig.Config `json:"broker,omitempty"`
}

// ConnectResponse is the payload of brokerConnect/<key>/res.
// It is published exactly once per session.
//
// In JSON, error is null on success and sessionResumed is only present
// on success.
type ConnectResponse struct {
	SessionKey     string `json:"clientKey"`
	Error          string `json:"error,omitempty"`
	SessionResumed bool   `json:"sessionResumed"`
}

// Failed reports whether the response carries an error.
func (r ConnectResponse) Failed() bool { return r.Error != "" }

func (r ConnectResponse) MarshalJSON() ([]byte, error) {
	type plain ConnectResponse
	var resumed *bool
	if !r.Failed() {
		resumed = &r.SessionResumed
	}
	return json.Marshal(struct {
		plain
		Error          *string `json:"error"`
		SessionResumed *bool   `json:"sessionResumed,omitempty"`
	}{plain(r), errorOrNull(r.Error), resumed})
}

// SubscribeRequest is the payload of brokerSubscribe/<key>/req.
type SubscribeRequest struct {
	SessionKey string `json:"clientKey"`
	MsgID      int    `json:"msgId"`
	Topic      string `json:"topic"`
	QoS        byte   `json:"qos"`
}

// SubscribeResponse is the payload of brokerSubscribe/<key>/res.
// Either QoS (granted) or Error is meaningful, never both. In JSON a
// failure carries no qos and a success carries "error": null.
type SubscribeResponse struct {
	SessionKey string `json:"clientKey"`
	MsgID      int    `json:"msgId"`
	QoS        byte   `json:"qos"`
	Error      string `json:"error,omitempty"`
}

func (r SubscribeResponse) MarshalJSON() ([]byte, error) {
	type plain SubscribeResponse
	var qos *byte
	if r.Error == "" {
		qos = &r.QoS
	}
	return json.Marshal(struct {
		plain
		QoS   *byte   `json:"qos,omitempty"`
		Error *string `json:"error"`
	}{plain(r), qos, errorOrNull(r.Error)})
}

// UnsubscribeRequest is the payload of brokerUnsubscribe/<key>/req.
type UnsubscribeRequest struct {
	SessionKey string `json:"clientKey"`
	MsgID      int    `json:"msgId"`
	Topic      string `json:"topic"`
}

// UnsubscribeResponse is the payload of brokerUnsubscribe/<key>/res.
type UnsubscribeResponse struct {
	SessionKey string `json:"clientKey"`
	MsgID      int    `json:"msgId"`
	Error      string `json:"error,omitempty"`
}

func (r UnsubscribeResponse) MarshalJSON() ([]byte, error) {
	type plain UnsubscribeResponse
	return json.Marshal(struct {
		plain
		Error *string `json:"error"`
	}{plain(r), errorOrNull(r.Error)})
}

// PublishFromClientRequest is the payload of brokerPublishFromClient/<key>/req.
type PublishFromClientRequest struct {
	SessionKey string `json:"clientKey"`
	MsgID      int    `json:"msgId"`
	Topic      string `json:"topic"`
	Payload    []byte `json:"payload"`
	QoS        byte   `json:"qos"`
	Retain     bool   `json:"retain"`
}

// PublishFromClientResponse is the payload of brokerPublishFromClient/<key>/res.
type PublishFromClientResponse struct {
	SessionKey string `json:"clientKey"`
	MsgID      int    `json:"msgId"`
	Error      string `json:"error,omitempty"`
}

func (r PublishFromClientResponse) MarshalJSON() ([]byte, error) {
	type plain PublishFromClientResponse
	return json.Marshal(struct {
		plain
		Error *string `json:"error"`
	}{plain(r), errorOrNull(r.Error)})
}

// PublishToClientRequest is the payload of brokerPublishToClient/<key>/req.
// MsgID is allocated by the session and wraps at 65536.
type PublishToClientRequest struct {
	SessionKey string `json:"clientKey"`
	MsgID      uint16 `json:"msgId"`
	Topic      string `json:"topic"`
	Payload    []byte `json:"payload"`
	QoS        byte   `json:"qos"`
}

// PublishToClientResponse is the payload of brokerPublishToClient/<key>/res.
// An empty Error (null in JSON) acknowledges the delivery.
type PublishToClientResponse struct {
	SessionKey string `json:"clientKey"`
	MsgID      uint16 `json:"msgId"`
	Error      string `json:"error,omitempty"`
}

func (r PublishToClientResponse) MarshalJSON() ([]byte, error) {
	type plain PublishToClientResponse
	return json.Marshal(struct {
		plain
		Error *string `json:"error"`
	}{plain(r), errorOrNull(r.Error)})
}

// DisconnectCall is the payload of brokerDisconnect/<key>/call.
type DisconnectCall struct {
	SessionKey string `json:"clientKey"`
}

// errorOrNull encodes an empty error text as JSON null.
func errorOrNull(text string) *string {
	if text == "" {
		return nil
	}
	return &text
}
