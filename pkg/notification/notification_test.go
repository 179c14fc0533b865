package notification_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifykit/pkg/notification"
)

func TestNew(t *testing.T) {
	t.Parallel()

	n := notification.New("user-42", notification.ChannelEmail, notification.PriorityHigh, "subject", "body")

	require.NotEmpty(t, n.ID)
	assert.Equal(t, "user-42", n.RecipientID)
	assert.Equal(t, notification.ChannelEmail, n.Channel)
	assert.Equal(t, notification.PriorityHigh, n.Priority)
	assert.False(t, n.CreatedAt.IsZero())
	assert.Equal(t, n.CreatedAt, n.UpdatedAt)
	assert.False(t, n.Read)

	n2 := notification.New("user-42", notification.ChannelEmail, notification.PriorityHigh, "subject", "body")
	assert.NotEqual(t, n.ID, n2.ID, "ids must never repeat")
}

func TestNotification_Validate(t *testing.T) {
	t.Parallel()

	t.Run("valid", func(t *testing.T) {
		t.Parallel()

		n := notification.New("user-1", notification.ChannelSMS, notification.PriorityLow, "s", "c")
		assert.NoError(t, n.Validate())
	})

	t.Run("missing id", func(t *testing.T) {
		t.Parallel()

		n := notification.New("user-1", notification.ChannelSMS, notification.PriorityLow, "s", "c")
		n.ID = ""
		assert.ErrorIs(t, n.Validate(), notification.ErrMissingID)
	})

	t.Run("missing recipient", func(t *testing.T) {
		t.Parallel()

		n := notification.New("", notification.ChannelSMS, notification.PriorityLow, "s", "c")
		assert.ErrorIs(t, n.Validate(), notification.ErrMissingRecipient)
	})

	t.Run("invalid channel", func(t *testing.T) {
		t.Parallel()

		n := notification.New("user-1", notification.Channel("FAX"), notification.PriorityLow, "s", "c")
		assert.ErrorIs(t, n.Validate(), notification.ErrInvalidChannel)
	})

	t.Run("invalid priority", func(t *testing.T) {
		t.Parallel()

		n := notification.New("user-1", notification.ChannelSMS, notification.Priority(42), "s", "c")
		assert.ErrorIs(t, n.Validate(), notification.ErrInvalidPriority)
	})
}

func TestNotification_MarkAsRead(t *testing.T) {
	t.Parallel()

	n := notification.New("user-1", notification.ChannelInApp, notification.PriorityMedium, "s", "c")
	require.False(t, n.Read)
	require.Nil(t, n.ReadAt)

	n.MarkAsRead()

	assert.True(t, n.Read)
	require.NotNil(t, n.ReadAt)
	assert.False(t, n.ReadAt.IsZero())
}

func TestMetadata(t *testing.T) {
	t.Parallel()

	t.Run("set and get", func(t *testing.T) {
		t.Parallel()

		var m notification.Metadata
		m.Set(notification.MetaLocale, "en-US")

		v, ok := m.Get(notification.MetaLocale)
		require.True(t, ok)
		assert.Equal(t, "en-US", v)

		_, ok = m.Get(notification.MetaCampaignID)
		assert.False(t, ok)
	})

	t.Run("clone is independent", func(t *testing.T) {
		t.Parallel()

		m := notification.NewMetadata()
		m.Set(notification.MetaSource, "orders")

		c := m.Clone()
		c.Set(notification.MetaSource, "billing")

		v, _ := m.Get(notification.MetaSource)
		assert.Equal(t, "orders", v)
	})

	t.Run("nil clone", func(t *testing.T) {
		t.Parallel()

		var m notification.Metadata
		assert.Nil(t, m.Clone())
	})
}

func TestChannel_Valid(t *testing.T) {
	t.Parallel()

	for _, c := range notification.Channels() {
		assert.True(t, c.Valid(), string(c))
	}
	assert.False(t, notification.Channel("CARRIER_PIGEON").Valid())
}

func TestPriority_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "LOW", notification.PriorityLow.String())
	assert.Equal(t, "MEDIUM", notification.PriorityMedium.String())
	assert.Equal(t, "HIGH", notification.PriorityHigh.String())
	assert.Equal(t, "URGENT", notification.PriorityUrgent.String())
	assert.Equal(t, "UNKNOWN", notification.Priority(99).String())
}
