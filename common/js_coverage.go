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
	"errors"
	"fmt"
	"sort"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/debugger"
	"github.com/chromedp/cdproto/profiler"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"golang.org/x/sync/errgroup"

	"github.com/chromecov/chromecov/log"
)

// Injected evaluations are tagged with this sourceURL so their coverage is
// never attributed to page code.
const evaluationScriptURL = "__chromecov_evaluation_script__"

var (
	// ErrCoverageAlreadyStarted is returned by Start while a collection is
	// running; start/stop calls must alternate.
	ErrCoverageAlreadyStarted = errors.New("coverage is already started")

	// ErrCoverageNotStarted is returned by Stop without a matching Start.
	ErrCoverageNotStarted = errors.New("coverage is not started")
)

// CoverageEntry is the per-resource result of a coverage run: the resource
// URL, its full source text, and the disjoint byte ranges of the text that
// were used.
type CoverageEntry struct {
	URL    string  `json:"url"`
	Text   string  `json:"text"`
	Ranges []Range `json:"ranges"`
}

// CoverageOptions configure a JS coverage run.
type CoverageOptions struct {
	// ResetOnNavigation drops the scripts accumulated so far whenever the
	// page's execution contexts are cleared.
	ResetOnNavigation bool

	// ReportAnonymousScripts includes scripts that have no URL of their
	// own, reported under a synthetic URL derived from their script id.
	ReportAnonymousScripts bool
}

// NewCoverageOptions returns the default JS coverage options.
func NewCoverageOptions() CoverageOptions {
	return CoverageOptions{
		ResetOnNavigation: true,
	}
}

// JSCoverage collects precise, function-level script execution coverage for
// a single session.
//
// Start and Stop are not safe to call concurrently with each other or with
// themselves; calls that break the alternation are rejected with
// ErrCoverageAlreadyStarted or ErrCoverageNotStarted.
type JSCoverage struct {
	ctx     context.Context
	session session
	logger  *log.Logger

	started  bool
	opts     CoverageOptions
	registry *resourceRegistry
	evCancel context.CancelFunc
}

// NewJSCoverage creates a JS coverage collector bound to a session.
func NewJSCoverage(ctx context.Context, s session, l *log.Logger) *JSCoverage {
	return &JSCoverage{
		ctx:      ctx,
		session:  s,
		logger:   l,
		registry: newResourceRegistry(),
	}
}

// Start begins collecting script execution coverage. The debugger domain is
// enabled solely to retrieve script sources; all pauses are suppressed so
// page execution is never interrupted.
func (c *JSCoverage) Start(opts CoverageOptions) error {
	if c.started {
		return fmt.Errorf("starting JS coverage: %w", ErrCoverageAlreadyStarted)
	}
	c.logger.Debugf("JSCoverage:Start",
		"resetOnNavigation:%t reportAnonymousScripts:%t",
		opts.ResetOnNavigation, opts.ReportAnonymousScripts)

	c.opts = opts
	c.registry.clear()

	// Subscribe before enabling the domains so no scriptParsed
	// notification is missed.
	evCancel := c.initEvents()
	ok := false
	defer func() {
		if !ok {
			evCancel()
		}
	}()

	ectx := cdp.WithExecutor(c.ctx, c.session)
	if err := profiler.Enable().Do(ectx); err != nil {
		return fmt.Errorf("enabling profiler: %w", err)
	}
	if _, err := profiler.StartPreciseCoverage().
		WithCallCount(true).
		WithDetailed(true).
		Do(ectx); err != nil {
		return fmt.Errorf("starting precise coverage: %w", err)
	}
	if _, err := debugger.Enable().Do(ectx); err != nil {
		return fmt.Errorf("enabling debugger: %w", err)
	}
	if err := debugger.SetSkipAllPauses(true).Do(ectx); err != nil {
		return fmt.Errorf("suppressing debugger pauses: %w", err)
	}

	c.evCancel = evCancel
	c.started = true
	ok = true
	return nil
}

// Stop ends the collection and returns one CoverageEntry per script that has
// both a known URL and known text, sorted by URL. Scripts whose text could
// not be fetched are silently excluded; the result is always a best-effort
// aggregate.
func (c *JSCoverage) Stop() ([]CoverageEntry, error) {
	if !c.started {
		return nil, fmt.Errorf("stopping JS coverage: %w", ErrCoverageNotStarted)
	}
	// Flip to idle first so no new run is admitted while teardown drains.
	c.started = false
	evCancel := c.evCancel
	c.evCancel = nil
	c.logger.Debugf("JSCoverage:Stop", "sid:%v", c.session.ID())

	ectx := cdp.WithExecutor(c.ctx, c.session)

	var (
		snapshot []*profiler.ScriptCoverage
		g        errgroup.Group
	)
	g.Go(func() error {
		var err error
		snapshot, _, err = profiler.TakePreciseCoverage().Do(ectx)
		if err != nil {
			return fmt.Errorf("taking precise coverage: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := profiler.StopPreciseCoverage().Do(ectx); err != nil {
			return fmt.Errorf("stopping precise coverage: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := profiler.Disable().Do(ectx); err != nil {
			return fmt.Errorf("disabling profiler: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := debugger.Disable().Do(ectx); err != nil {
			return fmt.Errorf("disabling debugger: %w", err)
		}
		return nil
	})
	err := g.Wait()
	// Subscriptions stay alive until the snapshot request has resolved, so
	// a script parsed just before the freeze still has a chance to be
	// registered. Late notifications during the drain window simply update
	// the registry one last time.
	evCancel()
	if err != nil {
		return nil, err
	}

	entries := make([]CoverageEntry, 0, len(snapshot))
	for _, script := range entriesByScript(snapshot) {
		id := string(script.ScriptID)
		url, _ := c.registry.url(id)
		if url == "" && c.opts.ReportAnonymousScripts {
			url = anonymousScriptURL(script.ScriptID)
		}
		text, ok := c.registry.text(id)
		if !ok || url == "" {
			c.logger.Debugf("JSCoverage:Stop",
				"skipping script id:%s url:%q (unattributable)", id, url)
			continue
		}

		var raw []rawRange
		for _, fn := range script.Functions {
			for _, r := range fn.Ranges {
				raw = append(raw, rawRange{
					startOffset: r.StartOffset,
					endOffset:   r.EndOffset,
					count:       r.Count,
				})
			}
		}
		entries = append(entries, CoverageEntry{
			URL:    url,
			Text:   text,
			Ranges: convertToDisjointRanges(raw),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].URL < entries[j].URL })
	return entries, nil
}

// entriesByScript keeps one ScriptCoverage per script id, merging function
// lists of duplicates (the backend reports each script once, but dedup here
// keeps the grouping invariant independent of that).
func entriesByScript(snapshot []*profiler.ScriptCoverage) []*profiler.ScriptCoverage {
	seen := make(map[cdpruntime.ScriptID]*profiler.ScriptCoverage, len(snapshot))
	out := make([]*profiler.ScriptCoverage, 0, len(snapshot))
	for _, sc := range snapshot {
		if prev, ok := seen[sc.ScriptID]; ok {
			prev.Functions = append(prev.Functions, sc.Functions...)
			continue
		}
		cp := *sc
		seen[sc.ScriptID] = &cp
		out = append(out, &cp)
	}
	return out
}

// anonymousScriptURL derives a placeholder URL for a script that has no
// sourceURL of its own. The format is "debugger://VM<scriptID>"; callers may
// rely on it to tell anonymous resources apart.
func anonymousScriptURL(id cdpruntime.ScriptID) string {
	return fmt.Sprintf("debugger://VM%s", id)
}

func (c *JSCoverage) initEvents() context.CancelFunc {
	evCtx, evCancel := context.WithCancel(c.ctx)
	chHandler := make(chan Event)
	c.session.on(evCtx, []string{
		cdproto.EventDebuggerScriptParsed,
		cdproto.EventRuntimeExecutionContextsCleared,
	}, chHandler)

	go func() {
		for c.handleEvents(evCtx, chHandler) {
		}
	}()
	return evCancel
}

func (c *JSCoverage) handleEvents(evCtx context.Context, in <-chan Event) bool {
	select {
	case <-evCtx.Done():
		return false
	case event := <-in:
		switch ev := event.data.(type) {
		case *debugger.EventScriptParsed:
			c.onScriptParsed(ev)
		case *cdpruntime.EventExecutionContextsCleared:
			c.onExecutionContextsCleared()
		}
	}
	return true
}

func (c *JSCoverage) onScriptParsed(event *debugger.EventScriptParsed) {
	// Never report coverage of code this module injected itself.
	if event.URL == evaluationScriptURL {
		return
	}
	if event.URL == "" && !c.opts.ReportAnonymousScripts {
		return
	}

	src, _, err := debugger.GetScriptSource(event.ScriptID).
		Do(cdp.WithExecutor(c.ctx, c.session))
	if err != nil {
		// The script may already be gone, e.g. the page navigated away
		// while the fetch was in flight. Drop it and move on; one failed
		// resource never aborts the collector.
		c.logger.Debugf("JSCoverage:onScriptParsed",
			"id:%s url:%q getScriptSource: %v", event.ScriptID, event.URL, err)
		return
	}
	c.registry.set(string(event.ScriptID), event.URL, src)
}

// onExecutionContextsCleared resets the registry on navigation. A source
// fetch already in flight may complete after the reset and insert into the
// fresh registry; that relaxation is kept on purpose, since rejecting it
// would change which resources a post-navigation Stop reports.
func (c *JSCoverage) onExecutionContextsCleared() {
	if !c.opts.ResetOnNavigation {
		return
	}
	c.logger.Debugf("JSCoverage:onExecutionContextsCleared", "clearing registry")
	c.registry.clear()
}
