/*
 *
 * chromecov - code coverage collection for CDP browsers
 * Copyright (C) 2022 The chromecov Authors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package common

import (
	"context"
	"fmt"
	"sort"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/css"
	"github.com/chromedp/cdproto/dom"
	cdpruntime "github.com/chromedp/cdproto/runtime"

	"github.com/chromecov/chromecov/log"
)

// CSSCoverageOptions configure a CSS coverage run.
type CSSCoverageOptions struct {
	// ResetOnNavigation drops the stylesheets accumulated so far whenever
	// the page's execution contexts are cleared.
	ResetOnNavigation bool
}

// NewCSSCoverageOptions returns the default CSS coverage options.
func NewCSSCoverageOptions() CSSCoverageOptions {
	return CSSCoverageOptions{
		ResetOnNavigation: true,
	}
}

// CSSCoverage collects stylesheet rule-usage coverage for a single session.
//
// Start and Stop follow the same alternation contract as JSCoverage.
type CSSCoverage struct {
	ctx     context.Context
	session session
	logger  *log.Logger

	started  bool
	opts     CSSCoverageOptions
	registry *resourceRegistry
	evCancel context.CancelFunc
}

// NewCSSCoverage creates a CSS coverage collector bound to a session.
func NewCSSCoverage(ctx context.Context, s session, l *log.Logger) *CSSCoverage {
	return &CSSCoverage{
		ctx:      ctx,
		session:  s,
		logger:   l,
		registry: newResourceRegistry(),
	}
}

// Start begins tracking stylesheet rule usage. The DOM domain is enabled as
// a prerequisite for stylesheet tracking on the backend.
func (c *CSSCoverage) Start(opts CSSCoverageOptions) error {
	if c.started {
		return fmt.Errorf("starting CSS coverage: %w", ErrCoverageAlreadyStarted)
	}
	c.logger.Debugf("CSSCoverage:Start", "resetOnNavigation:%t", opts.ResetOnNavigation)

	c.opts = opts
	c.registry.clear()

	evCancel := c.initEvents()
	ok := false
	defer func() {
		if !ok {
			evCancel()
		}
	}()

	actions := []Action{
		dom.Enable(),
		css.Enable(),
		css.StartRuleUsageTracking(),
	}
	for _, action := range actions {
		if err := action.Do(cdp.WithExecutor(c.ctx, c.session)); err != nil {
			return fmt.Errorf("starting CSS coverage: executing %T: %w", action, err)
		}
	}

	c.evCancel = evCancel
	c.started = true
	ok = true
	return nil
}

// Stop ends the collection and returns one CoverageEntry per registered
// stylesheet, sorted by URL. A stylesheet with no recorded rule usage still
// yields an entry with an empty range list; sheets that appear only in the
// snapshot but were never registered are dropped.
func (c *CSSCoverage) Stop() ([]CoverageEntry, error) {
	if !c.started {
		return nil, fmt.Errorf("stopping CSS coverage: %w", ErrCoverageNotStarted)
	}
	c.started = false
	evCancel := c.evCancel
	c.evCancel = nil
	c.logger.Debugf("CSSCoverage:Stop", "sid:%v", c.session.ID())

	ectx := cdp.WithExecutor(c.ctx, c.session)

	// Stopping the tracking is the snapshot request: it freezes and returns
	// the accumulated rule usage. Subscriptions stay alive until it has
	// resolved so a stylesheet added just before the freeze can still be
	// registered.
	ruleUsage, err := css.StopRuleUsageTracking().Do(ectx)
	evCancel()
	if err != nil {
		return nil, fmt.Errorf("stopping rule usage tracking: %w", err)
	}

	for _, action := range []Action{css.Disable(), dom.Disable()} {
		if err := action.Do(ectx); err != nil {
			return nil, fmt.Errorf("stopping CSS coverage: executing %T: %w", action, err)
		}
	}

	usageByID := make(map[string][]rawRange)
	for _, usage := range ruleUsage {
		var count int64
		if usage.Used {
			count = 1
		}
		id := string(usage.StyleSheetID)
		usageByID[id] = append(usageByID[id], rawRange{
			startOffset: int64(usage.StartOffset),
			endOffset:   int64(usage.EndOffset),
			count:       count,
		})
	}

	ids := c.registry.ids()
	entries := make([]CoverageEntry, 0, len(ids))
	for _, id := range ids {
		url, _ := c.registry.url(id)
		text, _ := c.registry.text(id)
		entries = append(entries, CoverageEntry{
			URL:    url,
			Text:   text,
			Ranges: convertToDisjointRanges(usageByID[id]),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].URL < entries[j].URL })
	return entries, nil
}

func (c *CSSCoverage) initEvents() context.CancelFunc {
	evCtx, evCancel := context.WithCancel(c.ctx)
	chHandler := make(chan Event)
	c.session.on(evCtx, []string{
		cdproto.EventCSSStyleSheetAdded,
		cdproto.EventRuntimeExecutionContextsCleared,
	}, chHandler)

	go func() {
		for c.handleEvents(evCtx, chHandler) {
		}
	}()
	return evCancel
}

func (c *CSSCoverage) handleEvents(evCtx context.Context, in <-chan Event) bool {
	select {
	case <-evCtx.Done():
		return false
	case event := <-in:
		switch ev := event.data.(type) {
		case *css.EventStyleSheetAdded:
			c.onStyleSheetAdded(ev)
		case *cdpruntime.EventExecutionContextsCleared:
			c.onExecutionContextsCleared()
		}
	}
	return true
}

func (c *CSSCoverage) onStyleSheetAdded(event *css.EventStyleSheetAdded) {
	header := event.Header
	// A sheet without a source URL is dynamically injected, unattributable
	// style; skip it.
	if header == nil || header.SourceURL == "" {
		return
	}

	text, err := css.GetStyleSheetText(header.StyleSheetID).
		Do(cdp.WithExecutor(c.ctx, c.session))
	if err != nil {
		c.logger.Debugf("CSSCoverage:onStyleSheetAdded",
			"id:%s url:%q getStyleSheetText: %v", header.StyleSheetID, header.SourceURL, err)
		return
	}
	c.registry.set(string(header.StyleSheetID), header.SourceURL, text)
}

// onExecutionContextsCleared mirrors the JS collector's relaxed reset: an
// in-flight text fetch may still land in the fresh registry.
func (c *CSSCoverage) onExecutionContextsCleared() {
	if !c.opts.ResetOnNavigation {
		return
	}
	c.logger.Debugf("CSSCoverage:onExecutionContextsCleared", "clearing registry")
	c.registry.clear()
}
