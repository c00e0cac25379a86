package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Rental API errors
var (
	ErrNoNumbers = errors.New("no numbers available")
	ErrNoBalance = errors.New("insufficient balance")
	ErrBadKey    = errors.New("invalid api key")
)

// SMSClient calls the number rental provider. The API is a single
// endpoint with query-string actions and line-based text responses
// (ACCESS_NUMBER:id:number, STATUS_OK:code and so on).
type SMSClient struct {
	baseURL     string
	apiKey      string
	serviceCode string
	httpClient  *http.Client
}

// NewSMSClient creates a new rental client
func NewSMSClient(baseURL, apiKey, serviceCode string) *SMSClient {
	return &SMSClient{
		baseURL:     baseURL,
		apiKey:      apiKey,
		serviceCode: serviceCode,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *SMSClient) call(ctx context.Context, params map[string]string) (string, error) {
	values := url.Values{}
	values.Set("api_key", c.apiKey)
	for k, v := range params {
		values.Set(k, v)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"?"+values.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	text := strings.TrimSpace(string(body))

	switch text {
	case "NO_NUMBERS":
		return "", ErrNoNumbers
	case "NO_BALANCE":
		return "", ErrNoBalance
	case "BAD_KEY":
		return "", ErrBadKey
	}

	return text, nil
}

// RentedNumber is a successfully rented phone number
type RentedNumber struct {
	RentalID    string
	PhoneNumber string
}

// RentNumber rents a phone number for SMS verification. Long-term rentals
// stay alive for about 72 hours.
func (c *SMSClient) RentNumber(ctx context.Context, longTerm bool) (*RentedNumber, error) {
	params := map[string]string{
		"action":  "getNumber",
		"service": c.serviceCode,
	}
	if longTerm {
		params["ltr"] = "1"
	}

	text, err := c.call(ctx, params)
	if err != nil {
		return nil, err
	}

	// ACCESS_NUMBER:<id>:<number>
	parts := strings.Split(text, ":")
	if len(parts) != 3 || parts[0] != "ACCESS_NUMBER" {
		return nil, fmt.Errorf("unexpected rental response: %s", text)
	}

	log.Printf("[SMSClient] Rented number %s (rental: %s)", parts[2], parts[1])
	return &RentedNumber{RentalID: parts[1], PhoneNumber: parts[2]}, nil
}

// OTPStatus is the state of a pending OTP
type OTPStatus struct {
	Waiting   bool
	Cancelled bool
	Code      string
}

// CheckOTP polls for the verification code of a rental
func (c *SMSClient) CheckOTP(ctx context.Context, rentalID string) (*OTPStatus, error) {
	text, err := c.call(ctx, map[string]string{
		"action": "getStatus",
		"id":     rentalID,
	})
	if err != nil {
		return nil, err
	}

	switch {
	case text == "STATUS_WAIT_CODE":
		return &OTPStatus{Waiting: true}, nil
	case text == "STATUS_CANCEL":
		return &OTPStatus{Cancelled: true}, nil
	case strings.HasPrefix(text, "STATUS_OK:"):
		return &OTPStatus{Code: strings.TrimPrefix(text, "STATUS_OK:")}, nil
	}

	return nil, fmt.Errorf("unexpected otp response: %s", text)
}

// CompleteRental marks a rental as done on the provider side
func (c *SMSClient) CompleteRental(ctx context.Context, rentalID string) error {
	_, err := c.call(ctx, map[string]string{
		"action": "setStatus",
		"id":     rentalID,
		"status": "6",
	})
	return err
}

// CancelRental cancels a rental on the provider side
func (c *SMSClient) CancelRental(ctx context.Context, rentalID string) error {
	_, err := c.call(ctx, map[string]string{
		"action": "setStatus",
		"id":     rentalID,
		"status": "8",
	})
	return err
}
