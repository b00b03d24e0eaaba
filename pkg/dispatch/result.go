package dispatch

import "encoding/json"

// Provider failure codes carried on a failed DeliveryResult.
const (
	CodeTokenUnregistered = "token-unregistered"
	CodeInvalidArgument   = "invalid-argument"
	CodeQuotaExceeded     = "quota-exceeded"
	CodeUnavailable       = "unavailable"
	CodeUnknown           = "unknown"
	CodeTokenSuppressed   = "token-suppressed"
	CodeNotInitialized    = "not-initialized"
	CodeMissingToken      = "missing-token"
)

// DeliveryResult is the outcome of a send. A failed single send is a value,
// never an error: callers inspect Success.
type DeliveryResult struct {
	Kind Kind

	Success   bool
	MessageID string
	Error     string
	Code      string

	SuccessCount int
	FailureCount int
}

// Delivered is a successful single send.
func Delivered(messageID string) DeliveryResult {
	return DeliveryResult{Kind: KindSingle, Success: true, MessageID: messageID}
}

// Failed is a single send the provider (or a local check) rejected.
func Failed(code, reason string) DeliveryResult {
	return DeliveryResult{Kind: KindSingle, Success: false, Error: reason, Code: code}
}

// BulkSummary aggregates a bulk send. Success is true whenever the bulk run
// completed, regardless of the individual outcomes.
func BulkSummary(successCount, failureCount int) DeliveryResult {
	return DeliveryResult{Kind: KindBulk, Success: true, SuccessCount: successCount, FailureCount: failureCount}
}

type singleResultJSON struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
	Code      string `json:"code,omitempty"`
}

type bulkResultJSON struct {
	Success      bool `json:"success"`
	SuccessCount int  `json:"successCount"`
	FailureCount int  `json:"failureCount"`
}

func (r DeliveryResult) MarshalJSON() ([]byte, error) {
	if r.Kind == KindBulk {
		return json.Marshal(bulkResultJSON{
			Success:      r.Success,
			SuccessCount: r.SuccessCount,
			FailureCount: r.FailureCount,
		})
	}
	return json.Marshal(singleResultJSON{
		Success:   r.Success,
		MessageID: r.MessageID,
		Error:     r.Error,
		Code:      r.Code,
	})
}

func (r *DeliveryResult) UnmarshalJSON(b []byte) error {
	var raw struct {
		Success      bool   `json:"success"`
		MessageID    string `json:"messageId"`
		Error        string `json:"error"`
		Code         string `json:"code"`
		SuccessCount *int   `json:"successCount"`
		FailureCount *int   `json:"failureCount"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw.SuccessCount != nil || raw.FailureCount != nil {
		*r = BulkSummary(deref(raw.SuccessCount), deref(raw.FailureCount))
		r.Success = raw.Success
		return nil
	}
	*r = DeliveryResult{
		Kind:      KindSingle,
		Success:   raw.Success,
		MessageID: raw.MessageID,
		Error:     raw.Error,
		Code:      raw.Code,
	}
	return nil
}

func deref(n *int) int {
	if n == nil {
		return 0
	}
	return *n
}
