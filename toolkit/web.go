package toolkit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	cortex "github.com/nevindra/cortex"
)

// WebTool answers web queries without an API key: DuckDuckGo's instant
// answer API first, the Wikipedia summary API as fallback, and readability
// extraction when only a source URL comes back.
type WebTool struct {
	client        *http.Client
	ddgBase       string
	wikipediaBase string
}

// WebOption configures a WebTool.
type WebOption func(*WebTool)

// WithWebHTTPClient replaces the HTTP client.
func WithWebHTTPClient(c *http.Client) WebOption {
	return func(w *WebTool) { w.client = c }
}

// WithDDGBase overrides the DuckDuckGo endpoint (tests).
func WithDDGBase(base string) WebOption {
	return func(w *WebTool) { w.ddgBase = base }
}

// WithWikipediaBase overrides the Wikipedia endpoint (tests).
func WithWikipediaBase(base string) WebOption {
	return func(w *WebTool) { w.wikipediaBase = base }
}

// NewWebTool creates a WebTool.
func NewWebTool(opts ...WebOption) *WebTool {
	w := &WebTool{
		client:        &http.Client{Timeout: 10 * time.Second},
		ddgBase:       "https://api.duckduckgo.com",
		wikipediaBase: "https://en.wikipedia.org",
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Tool adapts the WebTool to the agent tool contract.
func (w *WebTool) Tool() cortex.Tool {
	return cortex.Tool{
		Name:        "WebSearch",
		Description: "Search the web for facts and summaries. Input is the search query.",
		Invoke:      w.Search,
	}
}

// Search runs the query through both sources.
func (w *WebTool) Search(ctx context.Context, query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", fmt.Errorf("empty query")
	}
	if answer, err := w.duckduckgo(ctx, query); err == nil && answer != "" {
		return answer, nil
	}
	if answer, err := w.wikipedia(ctx, query); err == nil && answer != "" {
		return answer, nil
	}
	return fmt.Sprintf("No results found for %q.", query), nil
}

type ddgResponse struct {
	AbstractText  string `json:"AbstractText"`
	AbstractURL   string `json:"AbstractURL"`
	Answer        string `json:"Answer"`
	RelatedTopics []struct {
		Text     string `json:"Text"`
		FirstURL string `json:"FirstURL"`
	} `json:"RelatedTopics"`
}

func (w *WebTool) duckduckgo(ctx context.Context, query string) (string, error) {
	u := fmt.Sprintf("%s/?q=%s&format=json&no_html=1&skip_disambig=1",
		w.ddgBase, url.QueryEscape(query))
	var resp ddgResponse
	if err := w.getJSON(ctx, u, &resp); err != nil {
		return "", err
	}
	if resp.Answer != "" {
		return resp.Answer, nil
	}
	if resp.AbstractText != "" {
		out := resp.AbstractText
		if resp.AbstractURL != "" {
			out += "\nSource: " + resp.AbstractURL
		}
		return out, nil
	}
	// No abstract: try extracting the first related topic's page.
	for _, topic := range resp.RelatedTopics {
		if topic.FirstURL == "" {
			continue
		}
		if text, err := w.extract(ctx, topic.FirstURL); err == nil && text != "" {
			return text + "\nSource: " + topic.FirstURL, nil
		}
		if topic.Text != "" {
			return topic.Text + "\nSource: " + topic.FirstURL, nil
		}
	}
	return "", nil
}

type wikiSummary struct {
	Title   string `json:"title"`
	Extract string `json:"extract"`
	ContentURLs struct {
		Desktop struct {
			Page string `json:"page"`
		} `json:"desktop"`
	} `json:"content_urls"`
}

func (w *WebTool) wikipedia(ctx context.Context, query string) (string, error) {
	title := strings.ReplaceAll(strings.TrimSpace(query), " ", "_")
	u := fmt.Sprintf("%s/api/rest_v1/page/summary/%s", w.wikipediaBase, url.PathEscape(title))
	var resp wikiSummary
	if err := w.getJSON(ctx, u, &resp); err != nil {
		return "", err
	}
	if resp.Extract == "" {
		return "", nil
	}
	out := resp.Extract
	if page := resp.ContentURLs.Desktop.Page; page != "" {
		out += "\nSource: " + page
	}
	return out, nil
}

// extract fetches a page and pulls its readable text, truncated so one
// observation cannot flood an agent prompt.
func (w *WebTool) extract(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; CortexBot/1.0)")
	resp, err := w.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("HTTP %d from %s", resp.StatusCode, rawURL)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	parsed, _ := url.Parse(rawURL)
	article, err := readability.FromReader(strings.NewReader(string(body)), parsed)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(article.TextContent)
	const maxChars = 2000
	if len(text) > maxChars {
		text = text[:maxChars] + "..."
	}
	return text, nil
}

func (w *WebTool) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; CortexBot/1.0)")
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return &cortex.ErrHTTP{Status: resp.StatusCode}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
