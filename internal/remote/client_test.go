package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"checkinsync/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_SubmitCheckIn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/checkins", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req checkInRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Q-42", req.TargetHash)

		_ = json.NewEncoder(w).Encode(models.CheckInResult{
			GuestName: "Ada",
			Status:    models.ReservationCheckedIn,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "secret", time.Second)
	res, err := c.SubmitCheckIn(context.Background(), "Q-42")
	require.NoError(t, err)
	assert.Equal(t, "Q-42", res.TargetHash)
	assert.Equal(t, "Ada", res.GuestName)
	assert.Equal(t, models.ReservationCheckedIn, res.Status)
}

func TestClient_SubmitCheckInErrors(t *testing.T) {
	original := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		status      int
		contentType string
		body        string
		wantCode    string
	}{
		{"body code wins", http.StatusBadRequest, "application/json", `{"code":"ALREADY_CHECKED_IN","message":"done","original_check_in_time":"` + original.Format(time.RFC3339) + `"}`, models.CodeAlreadyCheckedIn},
		{"service conflict", http.StatusConflict, "application/json", `{"message":"guest already admitted"}`, models.CodeAlreadyCheckedIn},
		{"service gone", http.StatusGone, "application/json; charset=utf-8", `{}`, models.CodeReservationCancelled},
		{"service not found", http.StatusNotFound, "application/problem+json", `{"message":"no such reservation"}`, models.CodeReservationNotFound},
		{"proxy conflict page", http.StatusConflict, "text/html", "<html><body>409 Conflict</body></html>", models.CodeServerError},
		{"misrouted not found page", http.StatusNotFound, "text/html", "<html><body>404 Not Found</body></html>", models.CodeServerError},
		{"bare gone", http.StatusGone, "", "", models.CodeServerError},
		{"json label on html body", http.StatusNotFound, "application/json", "<html>oops</html>", models.CodeServerError},
		{"unavailable", http.StatusServiceUnavailable, "text/html", "<html>maintenance</html>", models.CodeNetworkError},
		{"internal error", http.StatusInternalServerError, "application/json", `{}`, models.CodeServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.contentType != "" {
					w.Header().Set("Content-Type", tt.contentType)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewClient(srv.URL, "", time.Second)
			_, err := c.SubmitCheckIn(context.Background(), "Q-42")
			require.Error(t, err)

			ce := models.AsCheckInError(err)
			assert.Equal(t, tt.wantCode, ce.Code)
			assert.NotEmpty(t, ce.Message)
		})
	}
}

func TestClient_OriginalCheckInTime(t *testing.T) {
	original := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(errorBody{Code: models.CodeAlreadyCheckedIn, OriginalCheckInTime: &original})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", time.Second).SubmitCheckIn(context.Background(), "Q-42")
	ce := models.AsCheckInError(err)
	require.NotNil(t, ce.OriginalCheckInTime)
	assert.True(t, original.Equal(*ce.OriginalCheckInTime))
}

func TestClient_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient(url, "", time.Second)
	_, err := c.SubmitCheckIn(context.Background(), "Q-42")
	assert.Equal(t, models.CodeNetworkError, models.AsCheckInError(err).Code)
	assert.Error(t, c.Ping(context.Background()))
}

func TestClient_Ping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	assert.NoError(t, NewClient(srv.URL, "", time.Second).Ping(context.Background()))
}

func stateServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/reservations/Q-42/state":
			atomic.AddInt32(hits, 1)
			_ = json.NewEncoder(w).Encode(models.ServerState{Status: models.ReservationPending})
		case "/api/v1/checkins":
			_ = json.NewEncoder(w).Encode(models.CheckInResult{Status: models.ReservationCheckedIn})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestClient_GetCheckInStateMemoryCache(t *testing.T) {
	var hits int32
	srv := stateServer(t, &hits)
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second)
	c.UseMemoryCache(time.Minute)
	ctx := context.Background()

	state, err := c.GetCheckInState(ctx, "Q-42")
	require.NoError(t, err)
	assert.Equal(t, "Q-42", state.TargetHash)
	assert.Equal(t, models.ReservationPending, state.Status)

	_, err = c.GetCheckInState(ctx, "Q-42")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	_, err = c.SubmitCheckIn(ctx, "Q-42")
	require.NoError(t, err)
	_, err = c.GetCheckInState(ctx, "Q-42")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestClient_GetCheckInStateRedisCache(t *testing.T) {
	var hits int32
	srv := stateServer(t, &hits)
	defer srv.Close()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	c := NewClient(srv.URL, "", time.Second)
	c.UseRedisCache(rdb, 30*time.Second)
	ctx := context.Background()

	_, err := c.GetCheckInState(ctx, "Q-42")
	require.NoError(t, err)
	assert.True(t, mr.Exists("checkin_state:Q-42"))

	_, err = c.GetCheckInState(ctx, "Q-42")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	mr.FastForward(31 * time.Second)
	_, err = c.GetCheckInState(ctx, "Q-42")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestClient_GetCheckInStateNoCache(t *testing.T) {
	var hits int32
	srv := stateServer(t, &hits)
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second)
	for i := 0; i < 3; i++ {
		_, err := c.GetCheckInState(context.Background(), "Q-42")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}
