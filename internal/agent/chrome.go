package agent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

const targetTypePage = "page"

// ChromeOptions control how the agent launches its browser.
type ChromeOptions struct {
	Headless     bool
	ChromeBinary string
	ProfileDir   string
}

// ChromeDriver serves the bridge command catalog against a local Chrome
// launched over CDP. Tab contexts are created lazily and cached per target.
type ChromeDriver struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu   sync.Mutex
	tabs map[string]tabEntry
}

type tabEntry struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func StartChrome(ctx context.Context, opts ChromeOptions) (*ChromeDriver, error) {
	allocOpts := chromedp.DefaultExecAllocatorOptions[:]
	if opts.Headless {
		allocOpts = append(allocOpts, chromedp.Headless)
	} else {
		allocOpts = append(allocOpts, chromedp.Flag("headless", false))
	}
	if opts.ChromeBinary != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ChromeBinary))
	}
	if opts.ProfileDir != "" {
		allocOpts = append(allocOpts, chromedp.UserDataDir(opts.ProfileDir))
	}
	allocOpts = append(allocOpts,
		chromedp.Flag("no-first-run", ""),
		chromedp.Flag("no-default-browser-check", ""),
		chromedp.Flag("disable-dev-shm-usage", ""),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start chrome: %w", err)
	}

	slog.Info("chrome started", "headless", opts.Headless, "profile", opts.ProfileDir)
	return &ChromeDriver{
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		tabs:          make(map[string]tabEntry),
	}, nil
}

func (d *ChromeDriver) Close() {
	d.mu.Lock()
	for id, entry := range d.tabs {
		entry.cancel()
		delete(d.tabs, id)
	}
	d.mu.Unlock()
	d.browserCancel()
	d.allocCancel()
}

// Handle dispatches one bridge command. Payload fields mirror what the
// browser extensions accept for the same action.
func (d *ChromeDriver) Handle(ctx context.Context, action string, payload json.RawMessage) (json.RawMessage, error) {
	var args struct {
		TabID    string `json:"tabId"`
		URL      string `json:"url"`
		Selector string `json:"selector"`
		Value    string `json:"value"`
		Script   string `json:"script"`
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &args); err != nil {
			return nil, fmt.Errorf("invalid payload: %w", err)
		}
	}

	switch action {
	case "getTabs":
		return d.getTabs()
	case "getActiveTab":
		return d.getActiveTab()
	case "activateTab":
		return d.activateTab(args.TabID)
	case "newTab":
		return d.newTab(args.URL)
	case "closeTab":
		return d.closeTab(args.TabID)
	case "navigate":
		return d.withTab(args.TabID, func(tabCtx context.Context) (json.RawMessage, error) {
			if args.URL == "" {
				return nil, fmt.Errorf("navigate requires url")
			}
			if err := navigatePage(tabCtx, args.URL); err != nil {
				return nil, err
			}
			return d.pageInfo(tabCtx)
		})
	case "reload":
		return d.runOnTab(args.TabID, chromedp.Reload())
	case "goBack":
		return d.runOnTab(args.TabID, chromedp.NavigateBack())
	case "goForward":
		return d.runOnTab(args.TabID, chromedp.NavigateForward())
	case "getPageInfo":
		return d.withTab(args.TabID, d.pageInfo)
	case "getPageContent":
		return d.withTab(args.TabID, func(tabCtx context.Context) (json.RawMessage, error) {
			var text string
			if err := chromedp.Run(tabCtx, chromedp.Evaluate("document.body ? document.body.innerText : ''", &text)); err != nil {
				return nil, err
			}
			return marshal(map[string]string{"content": text})
		})
	case "getSelectedText":
		return d.withTab(args.TabID, func(tabCtx context.Context) (json.RawMessage, error) {
			var text string
			if err := chromedp.Run(tabCtx, chromedp.Evaluate("window.getSelection().toString()", &text)); err != nil {
				return nil, err
			}
			return marshal(map[string]string{"text": text})
		})
	case "clickElement":
		if args.Selector == "" {
			return nil, fmt.Errorf("clickElement requires selector")
		}
		return d.runOnTab(args.TabID, chromedp.Click(args.Selector, chromedp.ByQuery))
	case "fillField":
		if args.Selector == "" {
			return nil, fmt.Errorf("fillField requires selector")
		}
		return d.runOnTab(args.TabID,
			chromedp.SetValue(args.Selector, args.Value, chromedp.ByQuery),
		)
	case "executeScript":
		return d.withTab(args.TabID, func(tabCtx context.Context) (json.RawMessage, error) {
			if args.Script == "" {
				return nil, fmt.Errorf("executeScript requires script")
			}
			var result json.RawMessage
			if err := chromedp.Run(tabCtx, chromedp.Evaluate(args.Script, &result)); err != nil {
				return nil, err
			}
			return marshal(map[string]any{"result": result})
		})
	case "screenshot":
		return d.withTab(args.TabID, func(tabCtx context.Context) (json.RawMessage, error) {
			var buf []byte
			if err := chromedp.Run(tabCtx, chromedp.CaptureScreenshot(&buf)); err != nil {
				return nil, err
			}
			return marshal(map[string]string{
				"format": "png",
				"data":   base64.StdEncoding.EncodeToString(buf),
			})
		})
	default:
		return nil, fmt.Errorf("action not supported by chrome agent: %s", action)
	}
}

type tabInfo struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Title  string `json:"title"`
	Active bool   `json:"active"`
}

func (d *ChromeDriver) listPages() ([]*target.Info, error) {
	var targets []*target.Info
	err := chromedp.Run(d.browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		targets, err = target.GetTargets().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("get targets: %w", err)
	}
	pages := make([]*target.Info, 0, len(targets))
	for _, t := range targets {
		if t.Type == targetTypePage {
			pages = append(pages, t)
		}
	}
	return pages, nil
}

func (d *ChromeDriver) getTabs() (json.RawMessage, error) {
	pages, err := d.listPages()
	if err != nil {
		return nil, err
	}
	tabs := make([]tabInfo, 0, len(pages))
	for _, p := range pages {
		tabs = append(tabs, tabInfo{
			ID:     string(p.TargetID),
			URL:    p.URL,
			Title:  p.Title,
			Active: p.Attached,
		})
	}
	return marshal(map[string]any{"tabs": tabs})
}

func (d *ChromeDriver) getActiveTab() (json.RawMessage, error) {
	pages, err := d.listPages()
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("no tabs open")
	}
	p := pages[0]
	for _, t := range pages {
		if t.Attached {
			p = t
			break
		}
	}
	return marshal(tabInfo{ID: string(p.TargetID), URL: p.URL, Title: p.Title, Active: true})
}

func (d *ChromeDriver) activateTab(tabID string) (json.RawMessage, error) {
	if tabID == "" {
		return nil, fmt.Errorf("activateTab requires tabId")
	}
	err := chromedp.Run(d.browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		return target.ActivateTarget(target.ID(tabID)).Do(ctx)
	}))
	if err != nil {
		return nil, fmt.Errorf("activate tab %s: %w", tabID, err)
	}
	return nil, nil
}

func (d *ChromeDriver) newTab(url string) (json.RawMessage, error) {
	navURL := "about:blank"
	if url != "" {
		navURL = url
	}
	var targetID target.ID
	createCtx, cancel := context.WithTimeout(d.browserCtx, 10*time.Second)
	defer cancel()
	err := chromedp.Run(createCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		targetID, err = target.CreateTarget(navURL).Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("create target: %w", err)
	}
	return marshal(map[string]string{"tabId": string(targetID), "url": navURL})
}

func (d *ChromeDriver) closeTab(tabID string) (json.RawMessage, error) {
	if tabID == "" {
		return nil, fmt.Errorf("closeTab requires tabId")
	}
	d.mu.Lock()
	if entry, ok := d.tabs[tabID]; ok {
		entry.cancel()
		delete(d.tabs, tabID)
	}
	d.mu.Unlock()

	err := chromedp.Run(d.browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		return target.CloseTarget(target.ID(tabID)).Do(ctx)
	}))
	if err != nil {
		return nil, fmt.Errorf("close tab %s: %w", tabID, err)
	}
	return nil, nil
}

// tabContext returns a cached chromedp context for the tab, attaching to the
// first open page when tabID is empty.
func (d *ChromeDriver) tabContext(tabID string) (context.Context, error) {
	if tabID == "" {
		pages, err := d.listPages()
		if err != nil {
			return nil, err
		}
		if len(pages) == 0 {
			return nil, fmt.Errorf("no tabs open")
		}
		tabID = string(pages[0].TargetID)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if entry, ok := d.tabs[tabID]; ok {
		return entry.ctx, nil
	}

	ctx, cancel := chromedp.NewContext(d.browserCtx, chromedp.WithTargetID(target.ID(tabID)))
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("tab %s not found: %w", tabID, err)
	}
	d.tabs[tabID] = tabEntry{ctx: ctx, cancel: cancel}
	return ctx, nil
}

func (d *ChromeDriver) withTab(tabID string, fn func(context.Context) (json.RawMessage, error)) (json.RawMessage, error) {
	tabCtx, err := d.tabContext(tabID)
	if err != nil {
		return nil, err
	}
	return fn(tabCtx)
}

func (d *ChromeDriver) runOnTab(tabID string, actions ...chromedp.Action) (json.RawMessage, error) {
	return d.withTab(tabID, func(tabCtx context.Context) (json.RawMessage, error) {
		if err := chromedp.Run(tabCtx, actions...); err != nil {
			return nil, err
		}
		return nil, nil
	})
}

func (d *ChromeDriver) pageInfo(tabCtx context.Context) (json.RawMessage, error) {
	var url, title string
	err := chromedp.Run(tabCtx,
		chromedp.Location(&url),
		chromedp.Title(&title),
	)
	if err != nil {
		return nil, err
	}
	return marshal(map[string]string{"url": url, "title": title})
}

// navigatePage issues raw Page.navigate and polls readyState so slow pages
// settle before the bridge's command timeout fires.
func navigatePage(ctx context.Context, url string) error {
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, _, _, err := page.Navigate(url).Do(ctx)
		return err
	}))
	if err != nil {
		return err
	}

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			var state string
			err = chromedp.Run(ctx, chromedp.Evaluate("document.readyState", &state))
			if err == nil && (state == "interactive" || state == "complete") {
				return nil
			}
		}
	}
}

func marshal(v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}
