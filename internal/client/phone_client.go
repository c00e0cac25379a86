package client

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Phone running status codes returned by the provider
const (
	PhoneStateStarted  = 0
	PhoneStateStarting = 1
	PhoneStateStopped  = 2
	PhoneStateExpired  = 3
)

// Task status codes returned by the provider
const (
	TaskStatePending   = 1
	TaskStateRunning   = 2
	TaskStateCompleted = 3
	TaskStateFailed    = 4
	TaskStateCancelled = 7
)

// Provider error codes worth distinguishing
const (
	CodePhoneNotFound   = 42001
	CodePhoneNotRunning = 42002
)

// APIError is a non-zero envelope code from the phone provider
type APIError struct {
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("phone api error %d: %s", e.Code, e.Msg)
}

// IsProxyError reports whether an error is a proxy-specific provider
// failure. These are the only failures worth retrying with a different
// proxy.
func IsProxyError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	if !strings.Contains(msg, "proxy") {
		return false
	}
	return strings.Contains(msg, "banned") ||
		strings.Contains(msg, "verification failed") ||
		strings.Contains(msg, "check failed") ||
		strings.Contains(msg, "not exist") ||
		strings.Contains(msg, "does not exist") ||
		strings.Contains(msg, "invalid")
}

// IsRateLimitError reports whether the provider pushed back on request rate
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "frequency")
}

// PhoneClient calls the cloud phone provider API
type PhoneClient struct {
	baseURL    string
	appID      string
	apiKey     string
	httpClient *http.Client
}

// NewPhoneClient creates a new phone provider client
func NewPhoneClient(baseURL, appID, apiKey string) *PhoneClient {
	return &PhoneClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		appID:   appID,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// post sends a signed request and decodes the envelope data on success.
// Signature: sha256(appId + traceId + ts + nonce + apiKey), uppercase hex.
func (c *PhoneClient) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	traceID := uuid.New().String()
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	nonce := traceID[:6]
	sum := sha256.Sum256([]byte(c.appID + traceID + ts + nonce + c.apiKey))

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("appId", c.appID)
	httpReq.Header.Set("traceId", traceID)
	httpReq.Header.Set("ts", ts)
	httpReq.Header.Set("nonce", nonce)
	httpReq.Header.Set("sign", strings.ToUpper(hex.EncodeToString(sum[:])))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("phone api rate limit: too many requests")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("phone api returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("decode response: %w (body: %s)", err, string(respBody))
	}

	if env.Code != 0 {
		return &APIError{Code: env.Code, Msg: env.Msg}
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode response data: %w", err)
		}
	}

	return nil
}

// ProxyConfig is the proxy settings for profile creation
type ProxyConfig struct {
	Scheme   string `json:"scheme,omitempty"`
	Server   string `json:"server"`
	Port     int    `json:"port"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// CreateProfilesRequest asks the provider for new phone profiles
type CreateProfilesRequest struct {
	Amount         int          `json:"amount"`
	AndroidVersion int          `json:"androidVersion,omitempty"`
	DeviceModel    string       `json:"deviceModel,omitempty"`
	GroupName      string       `json:"groupName,omitempty"`
	Region         string       `json:"region,omitempty"`
	Remark         string       `json:"remark,omitempty"`
	ProxyConfig    *ProxyConfig `json:"proxyConfig,omitempty"`
}

// ProfileDetail is one per-profile outcome of a create call
type ProfileDetail struct {
	Index       int    `json:"index"`
	Code        int    `json:"code"`
	Msg         string `json:"msg"`
	ID          string `json:"id"`
	ProfileName string `json:"profileName"`
	SerialNo    string `json:"envSerialNo,omitempty"`
}

// CreateProfilesResult is the provider response for profile creation
type CreateProfilesResult struct {
	TotalAmount   int             `json:"totalAmount"`
	SuccessAmount int             `json:"successAmount"`
	FailAmount    int             `json:"failAmount"`
	Details       []ProfileDetail `json:"details"`
}

// CreateProfiles creates phone profiles. Per-profile failures are reported
// in Details; a fully failed call surfaces the first failure as an error.
func (c *PhoneClient) CreateProfiles(ctx context.Context, req *CreateProfilesRequest) (*CreateProfilesResult, error) {
	log.Printf("[PhoneClient] Creating %d profile(s) (group: %s)", req.Amount, req.GroupName)

	var result CreateProfilesResult
	if err := c.post(ctx, "/phone/add", req, &result); err != nil {
		return nil, err
	}

	if result.SuccessAmount == 0 {
		for _, d := range result.Details {
			if d.Code != 0 {
				return &result, &APIError{Code: d.Code, Msg: d.Msg}
			}
		}
		return &result, fmt.Errorf("profile creation failed: no profiles created")
	}

	log.Printf("[PhoneClient] Profiles created: %d ok, %d failed", result.SuccessAmount, result.FailAmount)
	return &result, nil
}

// StartPhones powers on phone profiles
func (c *PhoneClient) StartPhones(ctx context.Context, ids []string) error {
	log.Printf("[PhoneClient] Starting %d phone(s)", len(ids))
	return c.post(ctx, "/phone/start", map[string]interface{}{"ids": ids}, nil)
}

// StopPhones powers off phone profiles
func (c *PhoneClient) StopPhones(ctx context.Context, ids []string) error {
	log.Printf("[PhoneClient] Stopping %d phone(s)", len(ids))
	return c.post(ctx, "/phone/stop", map[string]interface{}{"ids": ids}, nil)
}

// PhoneStatusDetail is the per-phone status from a status query
type PhoneStatusDetail struct {
	ID     string `json:"id"`
	Status int    `json:"status"`
}

type phoneStatusFail struct {
	ID   string `json:"id"`
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

type phoneStatusResult struct {
	SuccessDetails []PhoneStatusDetail `json:"successDetails"`
	FailDetails    []phoneStatusFail   `json:"failDetails"`
}

// GetPhoneStatus queries running state for a set of profiles
func (c *PhoneClient) GetPhoneStatus(ctx context.Context, ids []string) ([]PhoneStatusDetail, error) {
	var result phoneStatusResult
	if err := c.post(ctx, "/phone/status", map[string]interface{}{"ids": ids}, &result); err != nil {
		return nil, err
	}

	for _, f := range result.FailDetails {
		if f.Code == CodePhoneNotFound {
			return nil, &APIError{Code: f.Code, Msg: fmt.Sprintf("phone %s: %s", f.ID, f.Msg)}
		}
	}

	return result.SuccessDetails, nil
}

// InstallApp installs an app version onto a profile
func (c *PhoneClient) InstallApp(ctx context.Context, profileID, appVersionID string) error {
	log.Printf("[PhoneClient] Installing app version %s on %s", appVersionID, profileID)
	return c.post(ctx, "/app/install", map[string]interface{}{
		"envId":        profileID,
		"appVersionId": appVersionID,
	}, nil)
}

type installedApp struct {
	PackageName string `json:"packageName"`
	VersionName string `json:"versionName"`
}

type installedAppsResult struct {
	Items []installedApp `json:"items"`
}

// IsAppInstalled checks whether a package is present on a profile
func (c *PhoneClient) IsAppInstalled(ctx context.Context, profileID, packageName string) (bool, error) {
	var result installedAppsResult
	if err := c.post(ctx, "/app/installed/list", map[string]interface{}{"envId": profileID}, &result); err != nil {
		return false, err
	}

	for _, app := range result.Items {
		if app.PackageName == packageName {
			return true, nil
		}
	}
	return false, nil
}

// StartApp launches an installed app on a profile
func (c *PhoneClient) StartApp(ctx context.Context, profileID, packageName string) error {
	log.Printf("[PhoneClient] Starting app %s on %s", packageName, profileID)
	return c.post(ctx, "/app/start", map[string]interface{}{
		"envId":       profileID,
		"packageName": packageName,
	}, nil)
}

type taskIDResult struct {
	TaskID string `json:"taskId"`
}

// DispatchLogin starts the provider's built-in app login flow
func (c *PhoneClient) DispatchLogin(ctx context.Context, profileID, account, password string) (string, error) {
	log.Printf("[PhoneClient] Dispatching login task on %s", profileID)

	var result taskIDResult
	err := c.post(ctx, "/rpa/task/login", map[string]interface{}{
		"envId":    profileID,
		"account":  account,
		"password": password,
	}, &result)
	if err != nil {
		return "", err
	}

	log.Printf("[PhoneClient] Login task dispatched: %s", result.TaskID)
	return result.TaskID, nil
}

// CreateFlowTask starts a custom RPA flow on a profile
func (c *PhoneClient) CreateFlowTask(ctx context.Context, profileID, flowID string, params map[string]interface{}, name string) (string, error) {
	log.Printf("[PhoneClient] Creating flow task %s on %s", flowID, profileID)

	var result taskIDResult
	err := c.post(ctx, "/task/rpa/add", map[string]interface{}{
		"envId":  profileID,
		"flowId": flowID,
		"params": params,
		"name":   name,
	}, &result)
	if err != nil {
		return "", err
	}

	log.Printf("[PhoneClient] Flow task created: %s", result.TaskID)
	return result.TaskID, nil
}

// CreateEngagementTask starts the provider's built-in warmup task
func (c *PhoneClient) CreateEngagementTask(ctx context.Context, profileID, action string, durationMinutes int, keywords []string) (string, error) {
	log.Printf("[PhoneClient] Creating engagement task on %s (action: %s, duration: %dm)", profileID, action, durationMinutes)

	payload := map[string]interface{}{
		"envId":    profileID,
		"taskType": 2,
		"action":   action,
		"duration": durationMinutes,
	}
	if len(keywords) > 0 {
		payload["keywords"] = keywords
	}

	var result taskIDResult
	if err := c.post(ctx, "/task/add", payload, &result); err != nil {
		return "", err
	}

	return result.TaskID, nil
}

// TaskStatus is the provider view of one remote task
type TaskStatus struct {
	ID       string `json:"id"`
	Status   int    `json:"status"`
	FailCode int    `json:"failCode,omitempty"`
	FailDesc string `json:"failDesc,omitempty"`
}

type taskQueryResult struct {
	Items []TaskStatus `json:"items"`
}

// QueryTasks fetches status for a set of remote tasks
func (c *PhoneClient) QueryTasks(ctx context.Context, ids []string) ([]TaskStatus, error) {
	var result taskQueryResult
	if err := c.post(ctx, "/task/query", map[string]interface{}{"ids": ids}, &result); err != nil {
		return nil, err
	}
	return result.Items, nil
}

// GetTaskStatus fetches status for a single remote task
func (c *PhoneClient) GetTaskStatus(ctx context.Context, taskID string) (*TaskStatus, error) {
	items, err := c.QueryTasks(ctx, []string{taskID})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("task not found: %s", taskID)
	}
	return &items[0], nil
}

// ProviderProxy is one entry of the provider proxy inventory
type ProviderProxy struct {
	ID       string `json:"id"`
	Scheme   string `json:"scheme"`
	Server   string `json:"server"`
	Port     int    `json:"port"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

type proxyListResult struct {
	List  []ProviderProxy `json:"list"`
	Total int             `json:"total"`
}

// ListProxies fetches the provider-side proxy inventory
func (c *PhoneClient) ListProxies(ctx context.Context) ([]ProviderProxy, error) {
	var result proxyListResult
	err := c.post(ctx, "/proxy/list", map[string]interface{}{"page": 1, "pageSize": 100}, &result)
	if err != nil {
		return nil, err
	}
	return result.List, nil
}
