package session

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/nerrad567/gray-logic-mqttbridge/internal/bus"
)

// subscribeBus registers the session-scoped bus listeners used while
// connected. Every listener only queues the message.
func (s *Session) subscribeBus() {
	key := s.params.SessionKey
	queue := func(msg bus.Message) {
		if !s.mb.post(msg) {
			s.logger.Debug("bus message after teardown dropped",
				"session_key", key,
				"topic", msg.Topic.String())
		}
	}

	s.subs = append(s.subs,
		s.bus.Subscribe(bus.Request(bus.EventSubscribe, key), queue),
		s.bus.Subscribe(bus.Request(bus.EventUnsubscribe, key), queue),
		s.bus.Subscribe(bus.Request(bus.EventPublishFromClient, key), queue),
		s.bus.Subscribe(bus.Response(bus.EventPublishToClient, key), queue),
		s.bus.Subscribe(bus.Call(bus.EventDisconnect, key), queue),
	)
}

func (s *Session) unsubscribeBus() {
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.subs = nil
}

// handleConnectedEvent processes transport events after the initial
// acknowledgement. Reconnects and disconnects are only logged.
func (s *Session) handleConnectedEvent(ev Event) {
	switch ev.Type {
	case EventConnAck, EventOffline:
		s.connected = s.conn != nil && s.conn.IsConnected()
		status := "offline"
		if s.connected {
			status = "online"
		}
		s.logger.Warn("Connection state changed: "+status,
			"session_key", s.params.SessionKey,
			"message_id", healthMessageID,
			"connected", s.connected)
	case EventError:
		s.logger.Error("transport error",
			"session_key", s.params.SessionKey,
			"error", ev.Err)
	case EventMessage:
		s.deliverInbound(ev.Message)
	}
}

// handleBusMessage dispatches a session-scoped bus message by its topic.
// It reports true when the session should disconnect.
func (s *Session) handleBusMessage(msg bus.Message) bool {
	key := s.params.SessionKey

	// A disconnect call needs no payload.
	if msg.Topic.Event == bus.EventDisconnect {
		return msg.Topic.Kind == bus.KindCall
	}

	payload, err := bus.NormalizePayload(msg.Topic, msg.Payload)
	if err != nil {
		s.rejectMalformed(msg, err)
		return false
	}

	switch msg.Topic.Event {
	case bus.EventSubscribe:
		req, _ := payload.(bus.SubscribeRequest)
		s.startOperation(OpSubscribe, bus.Response(bus.EventSubscribe, key),
			func(ctx context.Context, conn Connection) (any, error) {
				granted, err := conn.Subscribe(ctx, req.Topic, req.QoS)
				if err != nil {
					return bus.SubscribeResponse{SessionKey: key, MsgID: req.MsgID, Error: err.Error()}, err
				}
				return bus.SubscribeResponse{SessionKey: key, MsgID: req.MsgID, QoS: granted}, nil
			})

	case bus.EventUnsubscribe:
		req, _ := payload.(bus.UnsubscribeRequest)
		s.startOperation(OpUnsubscribe, bus.Response(bus.EventUnsubscribe, key),
			func(ctx context.Context, conn Connection) (any, error) {
				resp := bus.UnsubscribeResponse{SessionKey: key, MsgID: req.MsgID}
				err := conn.Unsubscribe(ctx, req.Topic)
				if err != nil {
					resp.Error = err.Error()
				}
				return resp, err
			})

	case bus.EventPublishFromClient:
		req, _ := payload.(bus.PublishFromClientRequest)
		s.startOperation(OpPublish, bus.Response(bus.EventPublishFromClient, key),
			func(ctx context.Context, conn Connection) (any, error) {
				resp := bus.PublishFromClientResponse{SessionKey: key, MsgID: req.MsgID}
				err := conn.Publish(ctx, req.Topic, req.Payload, req.QoS, req.Retain)
				if err != nil {
					resp.Error = err.Error()
				}
				return resp, err
			})

	case bus.EventPublishToClient:
		resp, _ := payload.(bus.PublishToClientResponse)
		s.completeDelivery(resp)

	default:
		s.logger.Warn("unexpected bus topic",
			"session_key", key,
			"topic", msg.Topic.String())
	}
	return false
}

// rejectMalformed answers a request whose payload could not be read with
// an error response, echoing its msgId when one can be found. A malformed
// acknowledgement fails the matching delivery.
func (s *Session) rejectMalformed(msg bus.Message, cause error) {
	key := s.params.SessionKey
	msgID, found := bus.MsgIDOf(msg.Payload)

	s.logger.Warn("malformed bus payload",
		"session_key", key,
		"topic", msg.Topic.String(),
		"type", fmt.Sprintf("%T", msg.Payload),
		"error", cause)

	text := cause.Error()
	switch msg.Topic.Event {
	case bus.EventSubscribe:
		s.publish(bus.Response(bus.EventSubscribe, key),
			bus.SubscribeResponse{SessionKey: key, MsgID: msgID, Error: text})
	case bus.EventUnsubscribe:
		s.publish(bus.Response(bus.EventUnsubscribe, key),
			bus.UnsubscribeResponse{SessionKey: key, MsgID: msgID, Error: text})
	case bus.EventPublishFromClient:
		s.publish(bus.Response(bus.EventPublishFromClient, key),
			bus.PublishFromClientResponse{SessionKey: key, MsgID: msgID, Error: text})
	case bus.EventPublishToClient:
		if found && msgID >= 0 && msgID <= math.MaxUint16 {
			s.completeDelivery(bus.PublishToClientResponse{SessionKey: key, MsgID: uint16(msgID), Error: text})
		}
	}
}

// startOperation runs fn against the connection on its own goroutine and
// posts the result back to the mailbox.
func (s *Session) startOperation(op string, reply bus.Topic, fn func(ctx context.Context, conn Connection) (any, error)) {
	conn := s.conn
	if conn == nil {
		return
	}

	s.ops.Add(1)
	go func() {
		defer s.ops.Done()

		ctx, cancel := context.WithTimeout(s.opCtx, s.operationTimeout)
		defer cancel()

		start := time.Now()
		payload, err := fn(ctx, conn)
		if err != nil {
			err = &OperationError{Op: op, Err: err}
		}
		s.mb.post(opResult{
			op:      op,
			reply:   reply,
			payload: payload,
			err:     err,
			elapsed: time.Since(start),
		})
	}()
}

// completeOperation publishes the response of a finished operation.
func (s *Session) completeOperation(r opResult) {
	if r.err != nil {
		s.logger.Warn("broker operation failed",
			"session_key", s.params.SessionKey,
			"op", r.op,
			"error", r.err)
	}
	s.publish(r.reply, r.payload)
	s.observer.OperationCompleted(s.params.SessionKey, r.op, r.err, r.elapsed)
}

// deliverInbound forwards a broker message to the client and parks its
// acknowledgement until the matching response arrives.
func (s *Session) deliverInbound(msg *InboundMessage) {
	if msg == nil {
		return
	}

	id := s.ids.Next()
	if prev, ok := s.pending[id]; ok {
		s.logger.Warn("message id reused while pending, failing older delivery",
			"session_key", s.params.SessionKey,
			"msg_id", id,
			"topic", prev.msg.Topic)
		delete(s.pending, id)
		s.ack(prev, ErrIDCollision)
	}
	s.pending[id] = delivery{msg: msg, started: time.Now()}

	s.publish(bus.Request(bus.EventPublishToClient, s.params.SessionKey), bus.PublishToClientRequest{
		SessionKey: s.params.SessionKey,
		MsgID:      id,
		Topic:      msg.Topic,
		Payload:    msg.Payload,
		QoS:        msg.QoS,
	})
}

// completeDelivery acknowledges the inbound message matching resp.
func (s *Session) completeDelivery(resp bus.PublishToClientResponse) {
	d, ok := s.pending[resp.MsgID]
	if !ok {
		s.logger.Debug("acknowledgement for unknown message id",
			"session_key", s.params.SessionKey,
			"msg_id", resp.MsgID)
		return
	}
	delete(s.pending, resp.MsgID)

	var err error
	if resp.Error != "" {
		err = fmt.Errorf("%w: %s", ErrDeliveryRejected, resp.Error)
	}
	s.ack(d, err)
}

// ack invokes the transport acknowledgement unless the connection has
// been torn down.
func (s *Session) ack(d delivery, err error) {
	if s.conn == nil {
		return
	}
	if d.msg.Ack != nil {
		d.msg.Ack(err)
	}
	if err != nil {
		s.logger.Debug("inbound message not acknowledged",
			"session_key", s.params.SessionKey,
			"topic", d.msg.Topic,
			"error", err)
	}
	s.observer.OperationCompleted(s.params.SessionKey, OpDeliver, err, time.Since(d.started))
}
