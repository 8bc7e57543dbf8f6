package cdp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jogardn/pizza-shack/internal/circuitbreaker"
	"github.com/jogardn/pizza-shack/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel) // Reduce noise in tests
	return logger
}

func TestProfile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/profiles/alice":
			json.NewEncoder(w).Encode(Profile{
				PreferredCategories: []string{"vegetarian"},
				FavoriteItems:       []string{"Margherita Classic"},
				OrderCount:          4,
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, nil, testLogger())

	profile, err := client.Profile(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", profile.UserID)
	assert.Equal(t, 4, profile.OrderCount)

	_, err = client.Profile(context.Background(), "bob")
	assert.ErrorIs(t, err, ErrProfileNotFound)
}

func TestProfileTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	client := NewClient(server.URL, 50*time.Millisecond, nil, testLogger())

	start := time.Now()
	_, err := client.Profile(context.Background(), "alice")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestBreakerShortCircuits(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	breaker := circuitbreaker.New(circuitbreaker.Config{Name: "cdp", MaxFailures: 2, Timeout: time.Hour}, testLogger())
	client := NewClient(server.URL, time.Second, breaker, testLogger())

	for i := 0; i < 2; i++ {
		_, err := client.Profile(context.Background(), "alice")
		require.Error(t, err)
	}
	_, err := client.Profile(context.Background(), "alice")
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitBreakerOpen)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestTrack(t *testing.T) {
	received := make(chan Event, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/events", r.URL.Path)
		var event Event
		require.NoError(t, json.NewDecoder(r.Body).Decode(&event))
		received <- event
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, nil, testLogger())
	err := client.Track(context.Background(), Event{UserID: "alice", Type: "order_placed"})
	require.NoError(t, err)

	event := <-received
	assert.Equal(t, "order_placed", event.Type)
	assert.False(t, event.Timestamp.IsZero())
}

func TestRecommend(t *testing.T) {
	menu := []models.MenuItem{
		{ID: 1, Name: "Tandoori Chicken", Category: "specialty", Available: true},
		{ID: 2, Name: "Spicy Paneer Veggie", Category: "vegetarian", Available: true},
		{ID: 3, Name: "Margherita Classic", Category: "classic", Available: true},
		{ID: 4, Name: "Masala Potato & Pea", Category: "vegetarian", Available: true},
		{ID: 5, Name: "Hot Butter Prawn", Category: "specialty", Available: false},
	}

	generic := Recommend(nil, menu, 3)
	require.Len(t, generic, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{generic[0].ID, generic[1].ID, generic[2].ID})

	profile := &Profile{
		PreferredCategories: []string{"Vegetarian"},
		FavoriteItems:       []string{"margherita classic"},
	}
	personal := Recommend(profile, menu, 3)
	require.Len(t, personal, 3)
	assert.Equal(t, []int64{3, 2, 4}, []int64{personal[0].ID, personal[1].ID, personal[2].ID})

	all := Recommend(profile, menu, 0)
	assert.Len(t, all, 4, "unavailable items are never recommended")
}
