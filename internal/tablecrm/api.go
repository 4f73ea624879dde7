package tablecrm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"tablecrm-orders-go/internal/normalize"
)

// APIError represents a TableCRM API error
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

// Transient reports whether the request may succeed when repeated
func (e *APIError) Transient() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500
}

// RequestObserver receives timing of every CRM call
type RequestObserver interface {
	ObserveRequest(method, endpoint string, status int, duration time.Duration)
}

// Options configures the API client
type Options struct {
	BaseURL       string
	Token         string
	CORSProxy     string
	AuthHeader    bool
	Timeout       time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	HTTPClient    *http.Client
	Observer      RequestObserver
}

// API represents TableCRM API client
type API struct {
	baseURL       string
	token         string
	corsProxy     string
	authHeader    bool
	retryAttempts int
	retryDelay    time.Duration
	client        *http.Client
	observer      RequestObserver
	logger        *logrus.Logger
}

// NewAPI creates a new TableCRM API client
func NewAPI(opts Options, logger *logrus.Logger) *API {
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &API{
		baseURL:       strings.TrimRight(opts.BaseURL, "/"),
		token:         opts.Token,
		corsProxy:     opts.CORSProxy,
		authHeader:    opts.AuthHeader,
		retryAttempts: opts.RetryAttempts,
		retryDelay:    opts.RetryDelay,
		client:        client,
		observer:      opts.Observer,
		logger:        logger,
	}
}

// buildURL joins base URL, endpoint and query; the CORS proxy, if any, receives the escaped target
func (api *API) buildURL(endpoint string, params map[string]string) string {
	if !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}
	q := url.Values{}
	if !api.authHeader {
		q.Set("token", api.token)
	}
	for k, v := range params {
		q.Set(k, v)
	}
	fullURL := api.baseURL + endpoint
	if encoded := q.Encode(); encoded != "" {
		fullURL += "?" + encoded
	}
	if api.corsProxy != "" {
		return api.corsProxy + url.QueryEscape(fullURL)
	}
	return fullURL
}

// makeRequest performs HTTP request with logging
func (api *API) makeRequest(ctx context.Context, method, endpoint string, data interface{}, params map[string]string) (*http.Response, error) {
	var body io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, api.buildURL(endpoint, params), body)
	if err != nil {
		return nil, err
	}

	// Set headers
	if api.authHeader {
		req.Header.Set("Authorization", "Bearer "+api.token)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := api.client.Do(req)
	duration := time.Since(start)

	api.logRequest(method, endpoint, resp, duration)

	return resp, err
}

// logRequest logs HTTP requests
func (api *API) logRequest(method, endpoint string, resp *http.Response, duration time.Duration) {
	logData := logrus.Fields{
		"method":      method,
		"endpoint":    endpoint,
		"duration_ms": duration.Milliseconds(),
	}

	status := 0
	if resp != nil {
		status = resp.StatusCode
		logData["status_code"] = status

		if status >= 200 && status < 300 {
			api.logger.WithFields(logData).Infof("TableCRM API: %s %s -> %d (%dms)", method, endpoint, status, duration.Milliseconds())
		} else if status >= 400 && status < 500 {
			api.logger.WithFields(logData).Errorf("TableCRM API: Client error %s %s -> %d", method, endpoint, status)
		} else if status >= 500 {
			api.logger.WithFields(logData).Errorf("TableCRM API: Server error %s %s -> %d", method, endpoint, status)
		} else {
			api.logger.WithFields(logData).Warnf("TableCRM API: %s %s -> %d (%dms)", method, endpoint, status, duration.Milliseconds())
		}
	} else {
		api.logger.WithFields(logData).Errorf("TableCRM API: Request failed %s %s", method, endpoint)
	}

	if api.observer != nil {
		api.observer.ObserveRequest(method, endpoint, status, duration)
	}
}

// call performs the request and decodes a JSON body of a 2xx response
func (api *API) call(ctx context.Context, method, endpoint string, data interface{}, params map[string]string) (interface{}, error) {
	resp, err := api.makeRequest(ctx, method, endpoint, data, params)
	if err != nil {
		return nil, &APIError{Message: fmt.Sprintf("Network error %s %s: %v", method, endpoint, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("TableCRM %s %s: %d - %s", method, endpoint, resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var result interface{}
	if err := dec.Decode(&result); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("Failed to decode %s response: %v", endpoint, err)}
	}
	return result, nil
}

func (api *API) list(ctx context.Context, endpoint string, params map[string]string) (normalize.Envelope, error) {
	result, err := api.call(ctx, http.MethodGet, endpoint, nil, params)
	if err != nil {
		return normalize.Envelope{}, err
	}
	return normalize.Unwrap(result), nil
}

func pageParams(limit, offset int) map[string]string {
	return map[string]string{
		"limit":  strconv.Itoa(limit),
		"offset": strconv.Itoa(offset),
	}
}

// VerifyToken verifies API token validity
func (api *API) VerifyToken(ctx context.Context) bool {
	if _, err := api.list(ctx, "/payboxes/", map[string]string{"limit": "1"}); err != nil {
		api.logger.Errorf("Token verification error: %v", err)
		return false
	}
	return true
}

// Contragents returns one page of the client directory
func (api *API) Contragents(ctx context.Context, limit, offset int) (normalize.Envelope, error) {
	return api.list(ctx, "/contragents/", pageParams(limit, offset))
}

// CreateContragent creates a new client and returns the created record
func (api *API) CreateContragent(ctx context.Context, name, phone string) (normalize.Record, error) {
	api.logger.Infof("Creating new contragent: %s (%s)", name, phone)
	data := []map[string]interface{}{{
		"name":  name,
		"phone": phone,
	}}
	result, err := api.call(ctx, http.MethodPost, "/contragents/", data, nil)
	if err != nil {
		return nil, err
	}
	return firstRecord(result), nil
}

// Payboxes returns the accounts available for payment
func (api *API) Payboxes(ctx context.Context) (normalize.Envelope, error) {
	return api.list(ctx, "/payboxes/", nil)
}

// Organizations returns the organizations of the account
func (api *API) Organizations(ctx context.Context) (normalize.Envelope, error) {
	return api.list(ctx, "/organizations/", nil)
}

// Warehouses returns the warehouses of the account
func (api *API) Warehouses(ctx context.Context) (normalize.Envelope, error) {
	return api.list(ctx, "/warehouses/", nil)
}

// PriceTypes returns the configured price types
func (api *API) PriceTypes(ctx context.Context) (normalize.Envelope, error) {
	return api.list(ctx, "/price_types/", nil)
}

// Sales returns one page of sale documents without retries
func (api *API) Sales(ctx context.Context, limit, offset int) (normalize.Envelope, error) {
	return api.list(ctx, "/docs_sales/", pageParams(limit, offset))
}

// SalesWithRetry repeats transient failures and reports an empty list when all attempts fail
func (api *API) SalesWithRetry(ctx context.Context, limit, offset int) []normalize.Record {
	attempts := api.retryAttempts + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		env, err := api.Sales(ctx, limit, offset)
		if err == nil {
			return env.Items
		}

		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Transient() {
			api.logger.Errorf("Error loading sales: %v", err)
			return []normalize.Record{}
		}
		if attempt == attempts {
			api.logger.Errorf("Error loading sales after %d attempts: %v", attempts, err)
			break
		}

		api.logger.Warnf("Error loading sales (attempt %d/%d), retrying in %v: %v", attempt, attempts, api.retryDelay, err)
		select {
		case <-ctx.Done():
			api.logger.Warnf("Sales loading cancelled: %v", ctx.Err())
			return []normalize.Record{}
		case <-time.After(api.retryDelay):
		}
	}
	return []normalize.Record{}
}

// CreateSale submits a wrapped sale payload and returns the created document
func (api *API) CreateSale(ctx context.Context, payload interface{}) (normalize.Record, error) {
	result, err := api.call(ctx, http.MethodPost, "/docs_sales/", payload, nil)
	if err != nil {
		api.logger.Errorf("Error creating sale: %v", err)
		return nil, err
	}
	doc := firstRecord(result)
	api.logger.Infof("Sale document created: %v", doc["id"])
	return doc, nil
}

// CategoriesTree returns the nomenclature category tree
func (api *API) CategoriesTree(ctx context.Context) (normalize.Envelope, error) {
	return api.list(ctx, "/categories_tree/", nil)
}

// NomenclaturesByCategory returns the products of one category
func (api *API) NomenclaturesByCategory(ctx context.Context, categoryID string) (normalize.Envelope, error) {
	var id interface{} = categoryID
	if n, err := strconv.ParseInt(categoryID, 10, 64); err == nil {
		id = n
	}
	result, err := api.call(ctx, http.MethodPost, "/nomenclatures/", []interface{}{id}, nil)
	if err != nil {
		return normalize.Envelope{}, err
	}
	return normalize.Unwrap(result), nil
}

// firstRecord returns the first element of a list response, or the response itself
func firstRecord(result interface{}) normalize.Record {
	if list, ok := result.([]interface{}); ok {
		if len(list) == 0 {
			return normalize.Record{}
		}
		if rec, ok := normalize.AsRecord(list[0]); ok {
			return rec
		}
		return normalize.Record{"result": list[0]}
	}
	if rec, ok := normalize.AsRecord(result); ok {
		return rec
	}
	return normalize.Record{"result": result}
}
