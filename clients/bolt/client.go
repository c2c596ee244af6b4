// Package bolt implements the blockchain client over the Bolt HTTP service,
// which wraps Stacks node access and holds the platform escrow wallet.
package bolt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ronoel/b2pix-stacks-sub000/clients"
)

var log = logrus.WithField("prefix", "bolt")

const requestTimeout = 30 * time.Second

// Client is a clients.ChainClient over the Bolt REST API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

var _ clients.ChainClient = (*Client)(nil)

// New builds a client for the given service base URL.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: requestTimeout},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "could not encode request body")
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "could not build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "request to %s failed", path)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.WithError(err).Debug("Could not close response body")
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errors.Errorf("%s returned %d: %s", path, resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	return errors.Wrapf(json.NewDecoder(resp.Body).Decode(out), "could not decode %s response", path)
}

func (c *Client) Broadcast(ctx context.Context, serializedTx string) (*clients.TxSummary, error) {
	var out clients.TxSummary
	err := c.do(ctx, http.MethodPost, "/v1/transactions/broadcast",
		map[string]string{"transaction": serializedTx}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetDetail(ctx context.Context, serializedTx string) (*clients.TxSummary, error) {
	var out clients.TxSummary
	err := c.do(ctx, http.MethodPost, "/v1/transactions/detail",
		map[string]string{"transaction": serializedTx}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ValidateAndBroadcast(ctx context.Context, serializedTx, expectedRecipient string, expectedAmount int64) (string, error) {
	detail, err := c.GetDetail(ctx, serializedTx)
	if err != nil {
		return "", err
	}
	if detail.Recipient != expectedRecipient {
		return "", errors.Errorf("transaction pays %s, expected %s", detail.Recipient, expectedRecipient)
	}
	if detail.Amount != expectedAmount {
		return "", errors.Errorf("transaction amount %d, expected %d", detail.Amount, expectedAmount)
	}
	summary, err := c.Broadcast(ctx, serializedTx)
	if err != nil {
		return "", err
	}
	return summary.TxID, nil
}

func (c *Client) VerifyStatus(ctx context.Context, txID string) (clients.TxStatus, error) {
	var out struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/transactions/%s/status", txID), nil, &out); err != nil {
		return clients.TxUnknown, err
	}
	switch status := clients.TxStatus(out.Status); status {
	case clients.TxSuccess, clients.TxPending, clients.TxAbortByPostCondition,
		clients.TxAbortByResponse, clients.TxDroppedReplaceByFee:
		return status, nil
	default:
		return clients.TxUnknown, nil
	}
}

func (c *Client) Deposit(ctx context.Context, serializedTx, receiver string) (*clients.DepositResult, error) {
	var out clients.DepositResult
	err := c.do(ctx, http.MethodPost, "/v1/escrow/deposit",
		map[string]string{"transaction": serializedTx, "receiver": receiver}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Transfer(ctx context.Context, recipient string, amount int64) (string, error) {
	var out struct {
		TxID string `json:"txid"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/escrow/transfer",
		map[string]interface{}{"recipient": recipient, "amount": amount}, &out)
	if err != nil {
		return "", err
	}
	return out.TxID, nil
}
