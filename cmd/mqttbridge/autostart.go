package main

import (
	"github.com/nerrad567/gray-logic-mqttbridge/internal/bus"
	"github.com/nerrad567/gray-logic-mqttbridge/internal/infrastructure/config"
)

// subscribeQoS is the QoS requested for autostart subscriptions.
const subscribeQoS = 1

// connector starts a session for a connect request.
type connector interface {
	Connect(req bus.ConnectRequest)
}

// autostartLogger is the logging interface used by autostart sessions.
type autostartLogger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// autostart starts the sessions configured in the sessions section.
//
// For each session it listens for the connect outcome, subscribes the
// configured topic filters once connected and, with auto_ack set, answers
// every inbound delivery with an acknowledgement. The returned function
// removes those listeners.
func autostart(b *bus.Bus, c connector, sessions []config.AutostartConfig, log autostartLogger) (stop func()) {
	var subs []bus.Subscription

	for _, s := range sessions {
		subs = append(subs, b.Subscribe(bus.Response(bus.EventConnect, s.Key), func(msg bus.Message) {
			res, ok := msg.Payload.(bus.ConnectResponse)
			if !ok {
				return
			}
			if res.Failed() {
				log.Error("autostart session failed", "session_key", s.Key, "error", res.Error)
				return
			}
			log.Info("autostart session connected",
				"session_key", s.Key,
				"session_resumed", res.SessionResumed)

			for i, topic := range s.Subscriptions {
				err := b.Publish(bus.Request(bus.EventSubscribe, s.Key), bus.SubscribeRequest{
					SessionKey: s.Key,
					MsgID:      i + 1,
					Topic:      topic,
					QoS:        subscribeQoS,
				})
				if err != nil {
					log.Error("autostart subscribe failed", "session_key", s.Key, "topic", topic, "error", err)
				}
			}
		}))

		subs = append(subs, b.Subscribe(bus.Response(bus.EventSubscribe, s.Key), func(msg bus.Message) {
			res, ok := msg.Payload.(bus.SubscribeResponse)
			if !ok {
				return
			}
			if res.Error != "" {
				log.Warn("autostart subscription refused", "session_key", s.Key, "msg_id", res.MsgID, "error", res.Error)
				return
			}
			log.Info("autostart subscription granted", "session_key", s.Key, "msg_id", res.MsgID, "qos", res.QoS)
		}))

		if s.AutoAck {
			subs = append(subs, b.Subscribe(bus.Request(bus.EventPublishToClient, s.Key), func(msg bus.Message) {
				req, ok := msg.Payload.(bus.PublishToClientRequest)
				if !ok {
					return
				}
				log.Info("inbound message",
					"session_key", s.Key,
					"msg_id", req.MsgID,
					"topic", req.Topic,
					"qos", req.QoS,
					"bytes", len(req.Payload))

				err := b.Publish(bus.Response(bus.EventPublishToClient, s.Key), bus.PublishToClientResponse{
					SessionKey: s.Key,
					MsgID:      req.MsgID,
				})
				if err != nil {
					log.Error("autostart acknowledgement failed", "session_key", s.Key, "msg_id", req.MsgID, "error", err)
				}
			}))
		}

		req := bus.ConnectRequest{
			SessionKey:   s.Key,
			Identity:     s.Identity,
			CleanSession: s.CleanSession,
		}
		if s.Will != nil {
			req.HasWill = true
			req.WillTopic = s.Will.Topic
			req.WillMessage = []byte(s.Will.Message)
		}
		c.Connect(req)
	}

	return func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
	}
}
