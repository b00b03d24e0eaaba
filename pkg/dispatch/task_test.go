package dispatch_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-notification-relay/pkg/dispatch"
)

func TestNotificationTask_UnmarshalRecipients(t *testing.T) {
	t.Run("String to is a single recipient", func(t *testing.T) {
		var task dispatch.NotificationTask
		require.NoError(t, json.Unmarshal([]byte(`{"to":"tok1","notification":{"title":"T"}}`), &task))

		assert.False(t, task.To.IsZero())
		assert.False(t, task.To.IsList())
		assert.Equal(t, "tok1", task.To.Token())
	})

	t.Run("Array to is a recipient list", func(t *testing.T) {
		var task dispatch.NotificationTask
		require.NoError(t, json.Unmarshal([]byte(`{"to":["a","b"]}`), &task))

		assert.True(t, task.To.IsList())
		assert.Equal(t, []string{"a", "b"}, task.To.Tokens())
	})

	t.Run("Empty array is present", func(t *testing.T) {
		var task dispatch.NotificationTask
		require.NoError(t, json.Unmarshal([]byte(`{"to":[]}`), &task))

		assert.False(t, task.To.IsZero())
		assert.Empty(t, task.To.Tokens())
	})

	t.Run("Missing and null to are absent", func(t *testing.T) {
		var missing, null dispatch.NotificationTask
		require.NoError(t, json.Unmarshal([]byte(`{}`), &missing))
		require.NoError(t, json.Unmarshal([]byte(`{"to":null}`), &null))

		assert.True(t, missing.To.IsZero())
		assert.True(t, null.To.IsZero())
	})

	t.Run("Non token to fails to parse", func(t *testing.T) {
		var task dispatch.NotificationTask
		err := json.Unmarshal([]byte(`{"to":42}`), &task)
		require.Error(t, err)
	})

	t.Run("Recipients round trip", func(t *testing.T) {
		b, err := json.Marshal(dispatch.NotificationTask{To: dispatch.RecipientList([]string{"a"})})
		require.NoError(t, err)
		assert.JSONEq(t, `{"to":["a"]}`, string(b))
	})
}

func TestClassify_Precedence(t *testing.T) {
	note := &dispatch.Notification{Title: "T"}

	t.Run("Explicit type wins over data.type", func(t *testing.T) {
		delivery, err := dispatch.Classify(dispatch.NotificationTask{
			To:           dispatch.RecipientList([]string{"a"}),
			Notification: note,
			Type:         "bulk",
			Data:         map[string]any{"type": "single"},
		})
		require.NoError(t, err)
		assert.Equal(t, dispatch.Bulk{Tokens: []string{"a"}}, delivery)
	})

	t.Run("data.type wins over array inference", func(t *testing.T) {
		_, err := dispatch.Classify(dispatch.NotificationTask{
			To:           dispatch.RecipientList([]string{"a"}),
			Notification: note,
			Data:         map[string]any{"type": "single"},
		})
		require.ErrorIs(t, err, dispatch.ErrSingleRequiresToken)
	})

	t.Run("Scalar defaults to single", func(t *testing.T) {
		delivery, err := dispatch.Classify(dispatch.NotificationTask{
			To:           dispatch.SingleRecipient("tok"),
			Notification: note,
		})
		require.NoError(t, err)
		assert.Equal(t, dispatch.Single{Token: "tok"}, delivery)
		assert.Equal(t, dispatch.KindSingle, delivery.Kind())
	})
}

func TestClassify_Variants(t *testing.T) {
	note := &dispatch.Notification{Title: "T"}

	testCases := []struct {
		name string
		task dispatch.NotificationTask
		kind dispatch.Kind
	}{
		{name: "Scalar", task: dispatch.NotificationTask{To: dispatch.SingleRecipient("tok"), Notification: note}, kind: dispatch.KindSingle},
		{name: "Array", task: dispatch.NotificationTask{To: dispatch.RecipientList([]string{"a"}), Notification: note}, kind: dispatch.KindBulk},
		{name: "Explicit bulk", task: dispatch.NotificationTask{To: dispatch.RecipientList([]string{}), Notification: note, Type: "bulk"}, kind: dispatch.KindBulk},
		{name: "data.type single", task: dispatch.NotificationTask{To: dispatch.SingleRecipient("tok"), Notification: note, Data: map[string]any{"type": "single"}}, kind: dispatch.KindSingle},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			delivery, err := dispatch.Classify(tc.task)
			require.NoError(t, err)

			switch delivery.(type) {
			case dispatch.Single, dispatch.Bulk:
			default:
				t.Fatalf("unexpected delivery variant %T", delivery)
			}
			assert.Equal(t, tc.kind, delivery.Kind())
		})
	}

	t.Run("Unknown type is rejected before dispatch", func(t *testing.T) {
		_, err := dispatch.Classify(dispatch.NotificationTask{To: dispatch.SingleRecipient("tok"), Notification: note, Type: "broadcast"})

		require.True(t, dispatch.IsValidationError(err))
		assert.EqualError(t, err, "Unknown notification type: broadcast")
	})
}
