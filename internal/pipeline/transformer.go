// Package pipeline turns broker messages into notification tasks and hands them
// to the dispatcher.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-notification-relay/pkg/dispatch"
)

// EventNotificationRequested is the envelope event type whose data is a task.
const EventNotificationRequested = "NotificationRequested"

// FailureReasonKey is the enrichment key under which the transformer and the
// processor leave the reason a message was not processed.
const FailureReasonKey = "failureReason"

// ParseError reports a message body that could not be decoded into a task.
// The consumer treats it like a validation failure.
type ParseError struct {
	MessageID string
	Err       error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse notification task from message %s: %v", e.MessageID, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

type envelope struct {
	EventType     json.RawMessage `json:"eventType"`
	Version       json.RawMessage `json:"version"`
	Producer      json.RawMessage `json:"producer"`
	CorrelationID json.RawMessage `json:"correlationId"`
	Timestamp     json.RawMessage `json:"timestamp"`
	Data          json.RawMessage `json:"data"`
}

type envelopeData struct {
	dispatch.NotificationTask
	UserID    json.RawMessage `json:"userId"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// NotificationTaskTransformer decodes a message payload into a NotificationTask,
// unwrapping a NotificationRequested envelope when present. Decoding failures
// return a *ParseError with skip=false so the message is nacked into the retry
// path rather than acknowledged.
func NotificationTaskTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*dispatch.NotificationTask, bool, error) {
	var env envelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		return nil, false, parseFailure(msg, err)
	}

	if rawText(env.EventType) == EventNotificationRequested && rawText(env.Data) != "" {
		var inner envelopeData
		if err := json.Unmarshal(env.Data, &inner); err != nil {
			return nil, false, parseFailure(msg, fmt.Errorf("envelope data: %w", err))
		}

		task := inner.NotificationTask
		task.Metadata = &dispatch.EventMetadata{
			EventType:     EventNotificationRequested,
			Version:       rawText(env.Version),
			Producer:      rawText(env.Producer),
			CorrelationID: rawText(env.CorrelationID),
			Timestamp:     firstNonEmpty(rawText(env.Timestamp), rawText(inner.Timestamp)),
			UserID:        rawText(inner.UserID),
		}
		return &task, false, nil
	}

	var task dispatch.NotificationTask
	if err := json.Unmarshal(msg.Payload, &task); err != nil {
		return nil, false, parseFailure(msg, err)
	}
	return &task, false, nil
}

func parseFailure(msg *messagepipeline.Message, err error) error {
	perr := &ParseError{MessageID: msg.ID, Err: err}
	noteFailure(msg, perr)
	return perr
}

// noteFailure records err on the message for whoever handles its Nack.
func noteFailure(msg *messagepipeline.Message, err error) {
	if msg.EnrichmentData != nil {
		msg.EnrichmentData[FailureReasonKey] = err.Error()
	}
}

// rawText renders a raw JSON value as text: strings lose their quotes, null and
// missing values are empty, anything else is kept verbatim.
func rawText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
