package fetch

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	readability "github.com/go-shiori/go-readability"
)

// Browser renders pages in a long-lived headless Chrome before extraction,
// so script-rendered content is visible to readability. Construct once, call
// Fetch per URL, Close on shutdown.
type Browser struct {
	allocCtx  context.Context
	cancelAll context.CancelFunc
	brCtx     context.Context
	cancelBr  context.CancelFunc

	timeout  time.Duration
	maxChars int
}

var _ Closer = (*Browser)(nil)

func NewBrowser(timeout time.Duration, maxChars int, userAgent string) (*Browser, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent(userAgent),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	bctx, cancelBr := chromedp.NewContext(actx)

	return &Browser{
		allocCtx:  actx,
		cancelAll: cancelAlloc,
		brCtx:     bctx,
		cancelBr:  cancelBr,
		timeout:   timeout,
		maxChars:  maxChars,
	}, nil
}

func (b *Browser) Close() error {
	if b.cancelBr != nil {
		b.cancelBr()
	}
	if b.cancelAll != nil {
		b.cancelAll()
	}
	return nil
}

func (b *Browser) Fetch(ctx context.Context, link string) (Document, error) {
	if strings.TrimSpace(link) == "" {
		return Document{}, fmt.Errorf("fetch: empty url")
	}
	parsed, err := url.Parse(link)
	if err != nil {
		return Document{}, fmt.Errorf("fetch: bad url %q: %w", link, err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	html, err := b.outerHTML(ctx, link)
	if err != nil {
		return Document{}, fmt.Errorf("render %s: %w", link, err)
	}

	article, err := readability.FromReader(strings.NewReader(html), parsed)
	if err != nil {
		return Document{}, fmt.Errorf("extract %s: %w", link, err)
	}
	return Document{
		URL:   link,
		Title: strings.TrimSpace(article.Title),
		Text:  truncate(article.TextContent, b.maxChars),
	}, nil
}

func (b *Browser) outerHTML(ctx context.Context, link string) (string, error) {
	// Per-call deadline rides on the shared browser context.
	runCtx, cancel := context.WithTimeout(b.brCtx, b.timeout)
	defer cancel()
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()

	var html string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(link),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}
