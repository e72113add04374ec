// Package broker defines the publish/subscribe transport the orchestrator
// talks to and the message envelope carried over it.
package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	// DefaultSubscription is the subscription whose dead-letter feed the
	// orchestrator watches for every remote-call topic.
	DefaultSubscription = "orchestrator"
	// DefaultDeadLetterSuffix is appended to a subscription name to address
	// its dead-letter feed. Changing it breaks dead-letter routing.
	DefaultDeadLetterSuffix = "/$deadletterqueue"

	// MessageTypeDelimiter joins workflow name and task reference in MessageType.
	MessageTypeDelimiter = "|"
)

var (
	// ErrTransportClosed is returned by operations on a closed transport.
	ErrTransportClosed = errors.New("broker: transport is closed")
	// ErrAlreadySubscribed is returned when a handler is already attached to
	// the topic/subscription pair.
	ErrAlreadySubscribed = errors.New("broker: subscription already has a handler")
)

// Message is the envelope exchanged with peer services. MessageID carries the
// execution id used for correlation.
type Message struct {
	MessageID   string            `json:"messageId"`
	MessageType string            `json:"messageType"`
	Data        map[string]any    `json:"data"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// Handler consumes one delivered message. A non-nil error asks the transport
// to redeliver; once redelivery is exhausted the message is dead-lettered.
type Handler func(ctx context.Context, msg *Message) error

// Topic is a resolved handle used to publish to one topic.
type Topic interface {
	Name() string
	Publish(ctx context.Context, msg *Message) error
}

// Subscription is an active consumer attached to a topic.
type Subscription interface {
	Topic() string
	Name() string
	Close() error
}

// Transport resolves topics and attaches subscriptions.
type Transport interface {
	// Topic returns a publish handle for name.
	Topic(ctx context.Context, name string) (Topic, error)
	// Subscribe delivers messages of the named subscription on topic to h.
	// A subscription name ending in the dead-letter suffix receives the
	// dead-lettered messages of the base subscription.
	Subscribe(ctx context.Context, topic, subscription string, h Handler) (Subscription, error)
	Close() error
}

// MessageType builds the routing tag for a remote-call request.
func MessageType(workflow, taskReference string) string {
	return workflow + MessageTypeDelimiter + taskReference
}

// MalformedMessageTypeError is returned when a routing tag does not split into
// exactly a workflow name and a task reference.
type MalformedMessageTypeError struct {
	MessageType string
	Segments    int
}

func (e *MalformedMessageTypeError) Error() string {
	return fmt.Sprintf("malformed message type %q: expected 2 segments, got %d", e.MessageType, e.Segments)
}

// ParseMessageType splits a routing tag into workflow name and task reference.
func ParseMessageType(messageType string) (workflow, taskReference string, err error) {
	parts := strings.Split(messageType, MessageTypeDelimiter)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", &MalformedMessageTypeError{MessageType: messageType, Segments: len(parts)}
	}
	return parts[0], parts[1], nil
}

// DeadLetterSubscription names the dead-letter feed of subscription.
func DeadLetterSubscription(subscription, suffix string) string {
	if suffix == "" {
		suffix = DefaultDeadLetterSuffix
	}
	return subscription + suffix
}

// Clone returns a copy of msg with its own attribute map. Data is shared.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	cp := *m
	if m.Attributes != nil {
		cp.Attributes = make(map[string]string, len(m.Attributes))
		for k, v := range m.Attributes {
			cp.Attributes[k] = v
		}
	}
	return &cp
}
