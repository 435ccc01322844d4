package notification

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"workbench/pkg/store/mysql/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	notifications []*model.Notification
}

func (s *fakeStore) Create(ctx context.Context, notif *model.Notification) error {
	s.notifications = append(s.notifications, notif)
	return nil
}

func (s *fakeStore) ExistsSince(ctx context.Context, userID, notifType string, since time.Time) (bool, error) {
	for _, n := range s.notifications {
		if n.UserID == userID && n.Type == notifType && !n.Timestamp.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func TestNotifyUsageWarning_RecordsOncePerPeriod(t *testing.T) {
	store := &fakeStore{}
	notifier := NewUsageNotifier(store, "")
	ctx := context.Background()
	periodStart := time.Now().Add(-time.Hour)

	warning := &UsageWarning{
		UserID:    "user-1",
		Threshold: 90,
		Percent:   93,
		Usage:     "46.5",
		Limit:     "50",
	}

	sent, err := notifier.NotifyUsageWarning(ctx, warning, periodStart)
	require.NoError(t, err)
	assert.True(t, sent)
	require.Len(t, store.notifications, 1)
	assert.Equal(t, model.NotificationUsageWarning, store.notifications[0].Type)
	assert.Equal(t, "90", store.notifications[0].ActorID)
	assert.Equal(t, "93", store.notifications[0].Target)

	// Second pass in the same period is suppressed
	sent, err = notifier.NotifyUsageWarning(ctx, warning, periodStart)
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Len(t, store.notifications, 1)
}

func TestNotifyUsageWarning_NewPeriodResets(t *testing.T) {
	store := &fakeStore{}
	notifier := NewUsageNotifier(store, "")
	ctx := context.Background()

	warning := &UsageWarning{UserID: "user-1", Threshold: 75, Percent: 80}

	sent, err := notifier.NotifyUsageWarning(ctx, warning, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.True(t, sent)

	// A warning from the previous period does not suppress the new one
	sent, err = notifier.NotifyUsageWarning(ctx, warning, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Len(t, store.notifications, 2)
}

func TestNotifyUsageWarning_PushesWebhook(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewUsageNotifier(&fakeStore{}, server.URL)
	sent, err := notifier.NotifyUsageWarning(context.Background(), &UsageWarning{
		UserID:    "user-1",
		Threshold: 100,
		Percent:   110,
	}, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Equal(t, 1, calls)
}

func TestNotifyUsageWarning_WebhookFailureStillRecords(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	store := &fakeStore{}
	notifier := NewUsageNotifier(store, server.URL)
	sent, err := notifier.NotifyUsageWarning(context.Background(), &UsageWarning{
		UserID:    "user-1",
		Threshold: 75,
		Percent:   76,
	}, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Len(t, store.notifications, 1)
}
