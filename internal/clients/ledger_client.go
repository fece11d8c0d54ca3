// internal/clients/ledger_client.go
package clients

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"

	"libraledger/internal/catalog"
	"libraledger/internal/lending"
	"libraledger/internal/scoring"
	"libraledger/internal/web"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// LedgerClient talks to a running lending API. It satisfies lending.Service,
// so remote and in-process ledgers are interchangeable.
type LedgerClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewLedgerClient(baseURL string) *LedgerClient {
	return &LedgerClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *LedgerClient) WithHTTPClient(httpClient *http.Client) *LedgerClient {
	c.httpClient = httpClient
	return c
}

var _ lending.Service = (*LedgerClient)(nil)

func (c *LedgerClient) CreateBook(ctx context.Context, name string) (*catalog.Book, error) {
	resp, err := c.do(ctx, http.MethodPost, "/books", map[string]string{"name": name})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, unexpectedStatus(resp)
	}

	var book catalog.Book
	if err := json.NewDecoder(resp.Body).Decode(&book); err != nil {
		return nil, fmt.Errorf("failed to decode book: %w", err)
	}
	return &book, nil
}

func (c *LedgerClient) Borrow(ctx context.Context, userID, bookID int64) (lending.BorrowResult, error) {
	resp, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/users/%d/borrow/%d", userID, bookID), nil)
	if err != nil {
		return lending.BorrowResult{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusNotAcceptable:
		var body lending.OutcomeResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return lending.BorrowResult{}, fmt.Errorf("failed to decode borrow response: %w", err)
		}
		return lending.BorrowResult{Outcome: body.Outcome, LoanID: body.LoanID}, nil
	default:
		return lending.BorrowResult{}, unexpectedStatus(resp)
	}
}

func (c *LedgerClient) Return(ctx context.Context, userID, bookID int64, score int) (lending.ReturnResult, error) {
	resp, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/users/%d/return/%d", userID, bookID), map[string]int{"score": score})
	if err != nil {
		return lending.ReturnResult{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusNotAcceptable:
		var body lending.OutcomeResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return lending.ReturnResult{}, fmt.Errorf("failed to decode return response: %w", err)
		}
		return lending.ReturnResult{Outcome: body.Outcome}, nil
	default:
		return lending.ReturnResult{}, unexpectedStatus(resp)
	}
}

func (c *LedgerClient) RateAverage(ctx context.Context, bookID int64) (lending.RatingResult, error) {
	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/books/%d", bookID), nil)
	if err != nil {
		return lending.RatingResult{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var result lending.RatingResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return lending.RatingResult{}, fmt.Errorf("failed to decode rating: %w", err)
		}
		return result, nil
	case http.StatusNotFound:
		return lending.RatingResult{Outcome: lending.OutcomeUnknownBook, BookID: bookID, Score: scoring.NoRatings}, nil
	default:
		return lending.RatingResult{}, unexpectedStatus(resp)
	}
}

func (c *LedgerClient) do(ctx context.Context, method, path string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

func unexpectedStatus(resp *http.Response) error {
	var body web.ErrorBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		return fmt.Errorf("unexpected status code: %d: %s", resp.StatusCode, body.Error)
	}
	return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
}
