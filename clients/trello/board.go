// Package trello raises operator work items as cards on a Trello list.
package trello

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ronoel/b2pix-stacks-sub000/clients"
)

var log = logrus.WithField("prefix", "trello")

const baseURL = "https://api.trello.com/1"

// Board is a clients.BoardSink writing to one list.
type Board struct {
	key    string
	token  string
	listID string
	http   *http.Client
}

var _ clients.BoardSink = (*Board)(nil)

// New builds a board client for the given list.
func New(key, token, listID string) *Board {
	return &Board{
		key:    key,
		token:  token,
		listID: listID,
		http:   &http.Client{Timeout: 30 * time.Second},
	}
}

// CreateCard adds a card at the top of the list.
func (b *Board) CreateCard(ctx context.Context, title, description string) error {
	form := url.Values{}
	form.Set("key", b.key)
	form.Set("token", b.token)
	form.Set("idList", b.listID)
	form.Set("name", title)
	form.Set("desc", description)
	form.Set("pos", "top")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/cards", strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Wrap(err, "could not build card request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := b.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "card request failed")
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.WithError(err).Debug("Could not close response body")
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errors.Errorf("card endpoint returned %d: %s", resp.StatusCode, raw)
	}
	return nil
}
