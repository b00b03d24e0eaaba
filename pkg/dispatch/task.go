// Package dispatch contains the notification task model and the Dispatcher that
// validates a task and routes it to a single or bulk push send.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// Kind is the resolved delivery variant of a task.
type Kind string

const (
	KindSingle Kind = "single"
	KindBulk   Kind = "bulk"
)

// Notification is the user-visible part of a push message.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body,omitempty"`
}

// Recipients is the "to" field of a task: one device token or an ordered list of them.
// The zero value means the field was absent.
type Recipients struct {
	token  string
	tokens []string
	isList bool
	set    bool
}

// SingleRecipient addresses one device. An empty token counts as absent.
func SingleRecipient(token string) Recipients {
	return Recipients{token: token, set: token != ""}
}

// RecipientList addresses a list of devices. A nil slice counts as absent,
// an empty one does not.
func RecipientList(tokens []string) Recipients {
	return Recipients{tokens: tokens, isList: true, set: tokens != nil}
}

// IsZero reports whether no recipient was given.
func (r Recipients) IsZero() bool { return !r.set }

// IsList reports whether the recipients were given as an array.
func (r Recipients) IsList() bool { return r.isList }

// Token is the single device token; empty for a list.
func (r Recipients) Token() string { return r.token }

// Tokens is the token list; nil for a single recipient.
func (r Recipients) Tokens() []string { return r.tokens }

// UnmarshalJSON accepts a token string, an array of token strings or null.
func (r *Recipients) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*r = Recipients{}
		return nil
	}

	if trimmed[0] == '[' {
		var tokens []string
		if err := json.Unmarshal(trimmed, &tokens); err != nil {
			return fmt.Errorf("recipient list must contain only token strings: %w", err)
		}
		if tokens == nil {
			tokens = []string{}
		}
		*r = RecipientList(tokens)
		return nil
	}

	var token string
	if err := json.Unmarshal(trimmed, &token); err != nil {
		return fmt.Errorf("recipient must be a token string or an array of tokens: %w", err)
	}
	*r = SingleRecipient(token)
	return nil
}

// MarshalJSON writes the recipients back in the shape they were read.
func (r Recipients) MarshalJSON() ([]byte, error) {
	switch {
	case !r.set:
		return []byte("null"), nil
	case r.isList:
		return json.Marshal(r.tokens)
	default:
		return json.Marshal(r.token)
	}
}

// EventMetadata carries the fields of a NotificationRequested envelope that are
// not part of the task itself.
type EventMetadata struct {
	EventType     string `json:"eventType"`
	Version       string `json:"version,omitempty"`
	Producer      string `json:"producer,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
	Timestamp     string `json:"timestamp,omitempty"`
	UserID        string `json:"userId,omitempty"`
}

// NotificationTask is one queued notification request.
type NotificationTask struct {
	To           Recipients     `json:"to"`
	Notification *Notification  `json:"notification,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
	Type         string         `json:"type,omitempty"`

	// Metadata is set when the task arrived wrapped in an event envelope.
	Metadata *EventMetadata `json:"-"`
}

// ResolveKind applies the type precedence: explicit type, then data.type,
// then bulk when "to" is a list, otherwise single.
func (t NotificationTask) ResolveKind() Kind {
	if t.Type != "" {
		return Kind(t.Type)
	}
	if v, ok := t.Data["type"]; ok && v != nil {
		if s := stringValue(v); s != "" {
			return Kind(s)
		}
	}
	if t.To.IsList() {
		return KindBulk
	}
	return KindSingle
}

// Delivery is a classified task: either Single or Bulk. The unexported
// method keeps the set of variants closed.
type Delivery interface {
	Kind() Kind
	deliver(ctx context.Context, d *Dispatcher, content Notification, data map[string]string) DeliveryResult
}

type Single struct {
	Token string
}

type Bulk struct {
	Tokens []string
}

func (Single) Kind() Kind { return KindSingle }
func (Bulk) Kind() Kind   { return KindBulk }

// Classify validates the task and resolves it into its delivery variant.
// All failures are *ValidationError.
func Classify(task NotificationTask) (Delivery, error) {
	if task.To.IsZero() || task.Notification == nil {
		return nil, ErrIncompleteTask
	}
	if task.Notification.Title == "" {
		return nil, ErrTitleRequired
	}

	switch kind := task.ResolveKind(); kind {
	case KindSingle:
		if task.To.IsList() {
			return nil, ErrSingleRequiresToken
		}
		return Single{Token: task.To.Token()}, nil
	case KindBulk:
		if !task.To.IsList() {
			return nil, ErrBulkRequiresList
		}
		return Bulk{Tokens: task.To.Tokens()}, nil
	default:
		return nil, unknownKindError(kind)
	}
}
