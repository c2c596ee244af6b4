// Package efipay implements the PIX bank client against the EFI Pay API.
// Every call authenticates with the seller's own OAuth pair and PKCS#12
// certificate; access tokens are cached per client id until shortly before
// expiry.
package efipay

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/pkcs12"

	"github.com/ronoel/b2pix-stacks-sub000/clients"
)

var log = logrus.WithField("prefix", "efipay")

const (
	requestTimeout = 30 * time.Second
	requiredScopes = "gn.pix.evp.read gn.pix.evp.write pix.read"
	// Tokens are dropped a minute early so a cached one is never rejected
	// mid-request.
	tokenExpirySlack = time.Minute
)

// Client is a clients.BankClient over the EFI Pay REST API.
type Client struct {
	baseURL string
	tokens  *cache.Cache
}

var _ clients.BankClient = (*Client)(nil)

// New builds a client for the given API base URL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		tokens:  cache.New(cache.NoExpiration, 5*time.Minute),
	}
}

// httpClient builds an mTLS transport from the PKCS#12 bundle.
func httpClient(p12 []byte) (*http.Client, error) {
	blocks, err := pkcs12.ToPEM(p12, "")
	if err != nil {
		return nil, errors.Wrap(err, "could not read certificate bundle")
	}
	var pemBytes []byte
	for _, b := range blocks {
		pemBytes = append(pemBytes, pem.EncodeToMemory(b)...)
	}
	cert, err := tls.X509KeyPair(pemBytes, pemBytes)
	if err != nil {
		return nil, errors.Wrap(err, "could not build key pair from certificate")
	}
	return &http.Client{
		Timeout: requestTimeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{Certificates: []tls.Certificate{cert}},
		},
	}, nil
}

type tokenEntry struct {
	token string
	http  *http.Client
}

// authenticate returns a cached token for the credential or requests one.
func (c *Client) authenticate(ctx context.Context, auth clients.BankAuth) (*tokenEntry, error) {
	if v, ok := c.tokens.Get(auth.ClientID); ok {
		return v.(*tokenEntry), nil
	}
	hc, err := httpClient(auth.Certificate)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(map[string]string{
		"grant_type": "client_credentials",
		"scope":      requiredScopes,
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not encode token request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth/token", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "could not build token request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(auth.ClientID, auth.ClientSecret)
	resp, err := hc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "token request failed")
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("token endpoint returned %d", resp.StatusCode)
	}
	var out struct {
		AccessToken string `json:"access_token"`
		Scope       string `json:"scope"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Wrap(err, "could not decode token response")
	}
	entry := &tokenEntry{token: out.AccessToken, http: hc}
	ttl := time.Duration(out.ExpiresIn)*time.Second - tokenExpirySlack
	if ttl > 0 {
		c.tokens.Set(auth.ClientID, entry, ttl)
	}
	return entry, nil
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		log.WithError(err).Debug("Could not close response body")
	}
}

func (c *Client) do(ctx context.Context, entry *tokenEntry, method, path string, body, out interface{}) error {
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
	req.Header.Set("Authorization", "Bearer "+entry.token)
	resp, err := entry.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "request to %s failed", path)
	}
	defer closeBody(resp)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errors.Errorf("%s returned %d: %s", path, resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	return errors.Wrapf(json.NewDecoder(resp.Body).Decode(out), "could not decode %s response", path)
}

// GetOrCreatePixKey returns the account's first random EVP key, creating one
// when the account has none.
func (c *Client) GetOrCreatePixKey(ctx context.Context, auth clients.BankAuth) (string, error) {
	entry, err := c.authenticate(ctx, auth)
	if err != nil {
		return "", err
	}
	var listed struct {
		Chaves []string `json:"chaves"`
	}
	if err := c.do(ctx, entry, http.MethodGet, "/v2/gn/evp", nil, &listed); err != nil {
		return "", err
	}
	if len(listed.Chaves) > 0 {
		return listed.Chaves[0], nil
	}
	var created struct {
		Chave string `json:"chave"`
	}
	if err := c.do(ctx, entry, http.MethodPost, "/v2/gn/evp", nil, &created); err != nil {
		return "", err
	}
	log.WithField("clientId", auth.ClientID).Info("Created random PIX key")
	return created.Chave, nil
}

// QueryPix lists payments received in [start, end].
func (c *Client) QueryPix(ctx context.Context, auth clients.BankAuth, start, end time.Time) ([]clients.PixReceipt, error) {
	entry, err := c.authenticate(ctx, auth)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("inicio", start.UTC().Format(time.RFC3339))
	q.Set("fim", end.UTC().Format(time.RFC3339))
	var out struct {
		Pix []clients.PixReceipt `json:"pix"`
	}
	path := fmt.Sprintf("/v2/pix?%s", q.Encode())
	if err := c.do(ctx, entry, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Pix, nil
}
