package pricing

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "pricing")

// QuoteTTL bounds how stale a cached market price may be.
const QuoteTTL = 30 * time.Second

const quoteKey = "market_price"

// Source yields the current market price of the sell token in BRL cents.
type Source interface {
	MarketPrice(ctx context.Context) (int64, error)
}

// HTTPSource reads the market price from a JSON quote endpoint shaped as
// {"price_cents": N}.
type HTTPSource struct {
	URL    string
	Client *http.Client
}

// NewHTTPSource builds a source with a 30 s request timeout.
func NewHTTPSource(url string) *HTTPSource {
	return &HTTPSource{
		URL:    url,
		Client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *HTTPSource) MarketPrice(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return 0, errors.Wrap(err, "could not build quote request")
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return 0, errors.Wrap(err, "quote request failed")
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.WithError(err).Debug("Could not close quote response body")
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return 0, errors.Errorf("quote endpoint returned %d", resp.StatusCode)
	}
	var body struct {
		PriceCents int64 `json:"price_cents"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, errors.Wrap(err, "could not decode quote response")
	}
	if body.PriceCents <= 0 {
		return 0, errors.New("quote endpoint returned a non-positive price")
	}
	return body.PriceCents, nil
}

// Quoter serves market prices from a TTL cache, refreshing from the source
// on miss. A refresh failure surfaces to the caller; the previous value is
// never served past its TTL.
type Quoter struct {
	source Source
	cache  *cache.Cache
}

// NewQuoter wraps the source with the standard 30 s cache.
func NewQuoter(source Source) *Quoter {
	return &Quoter{
		source: source,
		cache:  cache.New(QuoteTTL, 2*QuoteTTL),
	}
}

// MarketPrice returns the cached quote or refreshes it.
func (q *Quoter) MarketPrice(ctx context.Context) (int64, error) {
	if v, ok := q.cache.Get(quoteKey); ok {
		return v.(int64), nil
	}
	price, err := q.source.MarketPrice(ctx)
	if err != nil {
		return 0, err
	}
	q.cache.Set(quoteKey, price, cache.DefaultExpiration)
	log.WithField("priceCents", price).Debug("Market quote refreshed")
	return price, nil
}
