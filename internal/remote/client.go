// Package remote is the HTTP client for the authoritative check-in service.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"checkinsync/internal/models"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// Client calls the check-in service. It implements domain.CheckInService and
// domain.CheckInStateLookup.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	redis    *redis.Client
	local    *gocache.Cache
	cacheTTL time.Duration
}

type checkInRequest struct {
	TargetHash string `json:"target_hash"`
}

type errorBody struct {
	Code                string     `json:"code"`
	Message             string     `json:"message"`
	OriginalCheckInTime *time.Time `json:"original_check_in_time,omitempty"`
}

// NewClient constructs a client with baseURL, API key and request timeout.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// UseRedisCache caches state lookups in Redis so several agents share them.
func (c *Client) UseRedisCache(redisClient *redis.Client, ttl time.Duration) {
	c.redis = redisClient
	c.cacheTTL = ttl
}

// UseMemoryCache caches state lookups in process.
func (c *Client) UseMemoryCache(ttl time.Duration) {
	c.local = gocache.New(ttl, 2*ttl)
	c.cacheTTL = ttl
}

// SubmitCheckIn posts one check-in. Failures are returned as *models.CheckInError.
func (c *Client) SubmitCheckIn(ctx context.Context, targetHash string) (*models.CheckInResult, error) {
	endpoint := c.baseURL + "/api/v1/checkins"
	var result models.CheckInResult

	if err := c.doPost(ctx, endpoint, checkInRequest{TargetHash: targetHash}, &result); err != nil {
		return nil, err
	}
	if result.TargetHash == "" {
		result.TargetHash = targetHash
	}

	c.invalidate(ctx, targetHash)
	return &result, nil
}

// GetCheckInState fetches the reservation state for targetHash.
func (c *Client) GetCheckInState(ctx context.Context, targetHash string) (*models.ServerState, error) {
	endpoint := fmt.Sprintf("%s/api/v1/reservations/%s/state", c.baseURL, url.PathEscape(targetHash))
	key := cacheKey(targetHash)
	var state models.ServerState

	if c.readCache(ctx, key, &state) {
		return &state, nil
	}

	if err := c.doGet(ctx, endpoint, &state); err != nil {
		return nil, err
	}
	if state.TargetHash == "" {
		state.TargetHash = targetHash
	}
	c.writeCache(ctx, key, state)
	return &state, nil
}

// Ping checks the service health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	return c.doGet(ctx, c.baseURL+"/health", nil)
}

func cacheKey(targetHash string) string {
	return "checkin_state:" + targetHash
}

func (c *Client) readCache(ctx context.Context, key string, out any) bool {
	if c.cacheTTL <= 0 {
		return false
	}
	if c.local != nil {
		if val, ok := c.local.Get(key); ok {
			if raw, ok := val.([]byte); ok && json.Unmarshal(raw, out) == nil {
				return true
			}
		}
	}
	if c.redis == nil {
		return false
	}
	val, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	if err := json.Unmarshal([]byte(val), out); err != nil {
		return false
	}
	return true
}

func (c *Client) writeCache(ctx context.Context, key string, val any) {
	if c.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	if c.local != nil {
		c.local.Set(key, data, c.cacheTTL)
	}
	if c.redis != nil {
		_ = c.redis.Set(ctx, key, data, c.cacheTTL).Err()
	}
}

// invalidate drops the cached state after a submission changed it.
func (c *Client) invalidate(ctx context.Context, targetHash string) {
	key := cacheKey(targetHash)
	if c.local != nil {
		c.local.Delete(key)
	}
	if c.redis != nil {
		_ = c.redis.Del(ctx, key).Err()
	}
}

func (c *Client) doGet(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	c.addHeaders(req)
	return c.do(req, out)
}

func (c *Client) doPost(ctx context.Context, endpoint string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.addHeaders(req)
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &models.CheckInError{Code: models.CodeNetworkError, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return &models.CheckInError{Code: models.CodeServerError, Message: fmt.Sprintf("decode response: %v", err)}
	}
	return nil
}

// decodeError prefers the code in a JSON body. Business codes are inferred from
// the HTTP status only for JSON answers from the service itself; anything else
// (a proxy page, a misrouted base URL) stays retriable.
func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var body errorBody
	parsed := len(raw) > 0 && json.Unmarshal(raw, &body) == nil
	fromService := parsed && isJSON(resp.Header.Get("Content-Type"))

	checkInErr := &models.CheckInError{
		Code:                body.Code,
		Message:             body.Message,
		OriginalCheckInTime: body.OriginalCheckInTime,
	}
	if checkInErr.Code == "" {
		checkInErr.Code = codeForStatus(resp.StatusCode, fromService)
	}
	if checkInErr.Message == "" {
		checkInErr.Message = fmt.Sprintf("http %d", resp.StatusCode)
	}
	return checkInErr
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && (mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"))
}

func codeForStatus(status int, fromService bool) string {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return models.CodeNetworkError
	}
	if !fromService {
		return models.CodeServerError
	}
	switch status {
	case http.StatusConflict:
		return models.CodeAlreadyCheckedIn
	case http.StatusGone:
		return models.CodeReservationCancelled
	case http.StatusNotFound:
		return models.CodeReservationNotFound
	default:
		return models.CodeServerError
	}
}

func (c *Client) addHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
}
