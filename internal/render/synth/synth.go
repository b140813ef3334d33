// Package synth renders a degraded PDF for a URL without a browser: the page
// is fetched over plain HTTP, its visible text is laid out onto a raster, and
// the raster is embedded in a one-page A4 document.
package synth

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/JakeFAU/compliance-archiver/internal/capture"
)

const (
	defaultTitle   = "Webpage Capture"
	maxTextChars   = 1500
	defaultTimeout = 30 * time.Second
)

// Config controls the fetch behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	Transport http.RoundTripper
}

// Renderer implements capture.Renderer with HTTP fetch plus PDF synthesis.
type Renderer struct {
	cfg           Config
	baseCollector *colly.Collector
	policy        *bluemonday.Policy
	logger        *zap.Logger
}

// New builds a Renderer.
func New(cfg Config, logger *zap.Logger) *Renderer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	transport := cfg.Transport
	if transport == nil {
		transport = newHTTPTransport()
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.IgnoreRobotsTxt = true
	c.WithTransport(transport)
	return &Renderer{
		cfg:           cfg,
		baseCollector: c,
		policy:        bluemonday.StrictPolicy(),
		logger:        logger,
	}
}

// Name identifies the strategy.
func (*Renderer) Name() string { return "http" }

// Render fetches url and synthesizes a PDF. PNG output is not supported.
func (r *Renderer) Render(ctx context.Context, url string, kind capture.Kind, _ capture.Viewport) ([]byte, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unsupported artifact type %q", capture.ErrValidation, kind)
	}
	if kind == capture.KindPNG {
		return nil, fmt.Errorf("%w: png capture requires the browser renderer", capture.ErrNotImplemented)
	}

	body, err := r.fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch %s: %w", capture.ErrRender, url, err)
	}
	page := r.extract(url, body)

	img, err := rasterize(page)
	if err != nil {
		return nil, fmt.Errorf("%w: rasterize: %w", capture.ErrRender, err)
	}
	pdf, err := embedA4(img)
	if err != nil {
		return nil, fmt.Errorf("%w: build pdf: %w", capture.ErrRender, err)
	}
	r.logger.Debug("synthesized pdf",
		zap.String("url", url),
		zap.String("title", page.Title),
		zap.Int("blocks", len(page.Blocks)),
		zap.Int("bytes", len(pdf)),
	)
	return pdf, nil
}

func (r *Renderer) fetch(ctx context.Context, url string) ([]byte, error) {
	collector := r.baseCollector.Clone()
	if r.cfg.UserAgent != "" {
		collector.UserAgent = r.cfg.UserAgent
	}
	collector.SetRequestTimeout(r.cfg.Timeout)

	var (
		body     []byte
		fetchErr error
	)
	collector.OnResponse(func(resp *colly.Response) {
		body = append([]byte(nil), resp.Body...)
	})
	collector.OnError(func(resp *colly.Response, err error) {
		if resp != nil && resp.StatusCode != 0 {
			fetchErr = fmt.Errorf("status %d: %w", resp.StatusCode, err)
			return
		}
		fetchErr = err
	})

	fetchCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()
	select {
	case <-fetchCtx.Done():
		return nil, fmt.Errorf("colly fetch canceled: %w", fetchCtx.Err())
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("colly visit failed: %w", err)
		}
		if fetchErr != nil {
			return nil, fmt.Errorf("colly response failed: %w", fetchErr)
		}
		return body, nil
	}
}

// pageText is the extracted content laid out onto the raster.
type pageText struct {
	URL    string
	Title  string
	Blocks []string
}

func (r *Renderer) extract(url string, body []byte) pageText {
	title := defaultTitle
	if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body)); err == nil {
		if t := strings.TrimSpace(doc.Find("title").First().Text()); t != "" {
			title = t
		}
	}
	text := html.UnescapeString(r.policy.Sanitize(string(body)))
	return pageText{URL: url, Title: title, Blocks: textBlocks(collapseSpace(text))}
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// textBlocks splits the leading text into sentence blocks suitable for layout.
func textBlocks(text string) []string {
	runes := []rune(text)
	if len(runes) > maxTextChars {
		runes = runes[:maxTextChars]
	}
	parts := strings.Split(string(runes), ".")
	if len(parts) > maxBlocks {
		parts = parts[:maxBlocks]
	}
	blocks := make([]string, 0, len(parts))
	for _, part := range parts {
		block := []rune(strings.TrimSpace(part))
		if len(block) > maxBlockChars {
			block = block[:maxBlockChars]
		}
		if len(block) < minBlockChars {
			continue
		}
		blocks = append(blocks, string(block))
	}
	return blocks
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
