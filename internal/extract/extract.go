// Package extract downloads web pages and reduces them to readable plaintext.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ErrNoText is returned when a page has no readable text.
var ErrNoText = errors.New("no text content")

const userAgent = "edubot/1.0 (+link summaries)"

type Config struct {
	Timeout time.Duration
	MaxBody int64
}

type Client struct {
	httpClient *http.Client
	maxBody    int64
	logger     *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	maxBody := cfg.MaxBody
	if maxBody <= 0 {
		maxBody = 5 << 20
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		maxBody:    maxBody,
		logger:     logger,
	}
}

// Fetch downloads the raw body at url. Non-2xx responses are errors.
func (c *Client) Fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("fetch failed: %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))
	if err != nil {
		return "", fmt.Errorf("failed to read body: %w", err)
	}

	c.logger.Debug("Fetched page", zap.String("url", url), zap.Int("bytes", len(body)))
	return string(body), nil
}

// Extract converts an HTML document to plaintext, preferring the <article>
// or <main> element when the page has one.
func (c *Client) Extract(raw string) (string, error) {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("failed to parse html: %w", err)
	}

	root := doc
	if n := findFirst(doc, atom.Article); n != nil {
		root = n
	} else if n := findFirst(doc, atom.Main); n != nil {
		root = n
	}

	var b strings.Builder
	collectText(root, &b)

	text := normalize(b.String())
	if text == "" {
		return "", ErrNoText
	}
	return text, nil
}

var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Nav:      true,
	atom.Header:   true,
	atom.Footer:   true,
	atom.Aside:    true,
	atom.Form:     true,
	atom.Template: true,
	atom.Svg:      true,
	atom.Head:     true,
}

var blocks = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Blockquote: true, atom.Pre: true, atom.Tr: true, atom.Section: true, atom.Article: true,
}

func findFirst(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if found := findFirst(child, a); found != nil {
			return found
		}
	}
	return nil
}

func collectText(n *html.Node, b *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		if skipped[n.DataAtom] {
			return
		}
	}

	for child := n.FirstChild; child != nil; child = child.NextSibling {
		collectText(child, b)
	}

	if n.Type == html.ElementNode && blocks[n.DataAtom] {
		b.WriteString("\n")
	}
}

// normalize collapses runs of whitespace inside lines and drops blank lines.
func normalize(text string) string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
