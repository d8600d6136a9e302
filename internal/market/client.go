// Package market fetches quotes and headlines from the Yahoo Finance HTTP API.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rewired-gh/stockagent/internal/logger"
	"github.com/rewired-gh/stockagent/internal/models"
)

const userAgent = "Mozilla/5.0 (compatible; stockagent/1.0)"

// ClientConfig tunes the HTTP behaviour of Client.
type ClientConfig struct {
	Timeout        time.Duration
	MaxRetries     int
	RequestSpacing time.Duration
}

// Client provides access to chart and search endpoints.
type Client struct {
	chartAPIURL  string
	searchAPIURL string
	httpClient   *http.Client
	maxRetries   int
	spacing      time.Duration
	now          func() time.Time
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string  `json:"symbol"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				RegularMarketTime  int64   `json:"regularMarketTime"`
				PreviousClose      float64 `json:"previousClose"`
				ChartPreviousClose float64 `json:"chartPreviousClose"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type searchResponse struct {
	News []newsEntry `json:"news"`
}

// newsEntry covers both the flat and the nested "content" headline schemas.
type newsEntry struct {
	Title       string `json:"title"`
	Summary     string `json:"summary"`
	Description string `json:"description"`
	Link        string `json:"link"`
	Content     *struct {
		Title           string `json:"title"`
		Summary         string `json:"summary"`
		Description     string `json:"description"`
		CanonicalURL    *link  `json:"canonicalUrl"`
		ClickThroughURL *link  `json:"clickThroughUrl"`
	} `json:"content"`
}

type link struct {
	URL string `json:"url"`
}

// NewClient creates a new market client.
func NewClient(chartAPIURL, searchAPIURL string, cfg ClientConfig) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		chartAPIURL:  strings.TrimRight(chartAPIURL, "/"),
		searchAPIURL: strings.TrimRight(searchAPIURL, "/"),
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		maxRetries:   cfg.MaxRetries,
		spacing:      cfg.RequestSpacing,
		now:          time.Now,
	}
}

// FetchObservation returns the current price and percent change versus the
// previous close for ticker. Failures are reported as *models.DataError.
func (c *Client) FetchObservation(ctx context.Context, ticker string) (models.PriceObservation, error) {
	u, err := url.Parse(c.chartAPIURL + "/" + url.PathEscape(ticker))
	if err != nil {
		return models.PriceObservation{}, models.NewDataError(ticker, err, "failed to parse URL")
	}
	q := u.Query()
	q.Set("range", "1d")
	q.Set("interval", "1m")
	u.RawQuery = q.Encode()

	var chart chartResponse
	if err := c.getJSON(ctx, u.String(), &chart); err != nil {
		return models.PriceObservation{}, models.NewDataError(ticker, err, "failed to fetch chart")
	}
	if chart.Chart.Error != nil {
		return models.PriceObservation{}, models.NewDataError(ticker,
			errors.New(chart.Chart.Error.Description), "chart api error "+chart.Chart.Error.Code)
	}
	if len(chart.Chart.Result) == 0 {
		return models.PriceObservation{}, models.NewDataError(ticker, nil, "chart returned no result")
	}

	res := chart.Chart.Result[0]
	price := res.Meta.RegularMarketPrice
	ts := time.Unix(res.Meta.RegularMarketTime, 0)
	if len(res.Indicators.Quote) > 0 {
		closes := res.Indicators.Quote[0].Close
		for i := len(closes) - 1; i >= 0; i-- {
			if closes[i] != nil && *closes[i] > 0 {
				price = *closes[i]
				if i < len(res.Timestamp) {
					ts = time.Unix(res.Timestamp[i], 0)
				}
				break
			}
		}
	}
	prev := res.Meta.PreviousClose
	if prev <= 0 {
		prev = res.Meta.ChartPreviousClose
	}
	if res.Meta.RegularMarketTime == 0 && len(res.Timestamp) == 0 {
		ts = c.now()
	}

	obs := models.PriceObservation{
		Ticker:        ticker,
		Price:         price,
		PreviousClose: prev,
		ChangePercent: models.ChangePercent(price, prev),
		Timestamp:     ts,
	}
	if err := obs.Validate(); err != nil {
		return models.PriceObservation{}, models.NewDataError(ticker, err, "malformed quote")
	}
	if prev <= 0 {
		return models.PriceObservation{}, models.NewDataError(ticker, nil, "quote has no previous close")
	}
	return obs, nil
}

// FetchSnapshot fetches observations for every ticker in order, spacing the
// requests. A failing ticker is reported in errs and skipped.
func (c *Client) FetchSnapshot(ctx context.Context, tickers []string) (snapshot []models.PriceObservation, errs []error) {
	for i, ticker := range tickers {
		if i > 0 && c.spacing > 0 {
			if err := sleep(ctx, c.spacing); err != nil {
				errs = append(errs, err)
				return snapshot, errs
			}
		}
		obs, err := c.FetchObservation(ctx, ticker)
		if err != nil {
			logger.Warn("Skipping %s: %v", ticker, err)
			errs = append(errs, err)
			continue
		}
		snapshot = append(snapshot, obs)
	}
	return snapshot, errs
}

// FetchNews returns up to limit headlines for ticker, deduplicated by title.
func (c *Client) FetchNews(ctx context.Context, ticker string, limit int) ([]models.NewsItem, error) {
	u, err := url.Parse(c.searchAPIURL)
	if err != nil {
		return nil, models.NewDataError(ticker, err, "failed to parse URL")
	}
	q := u.Query()
	q.Set("q", ticker)
	q.Set("quotesCount", "0")
	q.Set("newsCount", strconv.Itoa(limit*2)) // headroom for duplicates
	u.RawQuery = q.Encode()

	var search searchResponse
	if err := c.getJSON(ctx, u.String(), &search); err != nil {
		return nil, models.NewDataError(ticker, err, "failed to fetch news")
	}
	return extractHeadlines(search.News, limit), nil
}

func extractHeadlines(entries []newsEntry, limit int) []models.NewsItem {
	seen := make(map[string]bool)
	var out []models.NewsItem
	for _, e := range entries {
		var title, href string
		if e.Content != nil {
			title = firstNonEmpty(e.Content.Title, e.Content.Summary, e.Content.Description)
			if e.Content.CanonicalURL != nil {
				href = e.Content.CanonicalURL.URL
			}
			if href == "" && e.Content.ClickThroughURL != nil {
				href = e.Content.ClickThroughURL.URL
			}
		}
		if title == "" {
			title = firstNonEmpty(e.Title, e.Summary, e.Description)
		}
		if href == "" {
			href = e.Link
		}
		key := strings.TrimSpace(title)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, models.NewsItem{Title: key, Link: href})
		if len(out) >= limit {
			break
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func (c *Client) getJSON(ctx context.Context, urlStr string, out interface{}) error {
	resp, err := c.doRequest(ctx, urlStr)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// doRequest performs an HTTP GET, retrying transport and 5xx failures up to
// maxRetries attempts in total.
func (c *Client) doRequest(ctx context.Context, urlStr string) (*http.Response, error) {
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		if i > 0 {
			if err := sleep(ctx, time.Duration(i)*time.Second); err != nil {
				return nil, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", userAgent)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		}

		return resp, nil
	}

	if c.maxRetries == 1 {
		return nil, lastErr
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
