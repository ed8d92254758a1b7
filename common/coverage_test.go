package common

import (
	"testing"

	"github.com/chromedp/cdproto/css"
	"github.com/chromedp/cdproto/debugger"
	"github.com/chromedp/cdproto/profiler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chromecov/chromecov/log"
)

// The two collectors behind the facade are independent: separate registries,
// separate lifecycles.
func TestCoverageFacade(t *testing.T) {
	t.Parallel()

	ctx := testContext(t)
	sess := newFakeSession(ctx)
	c := NewCoverage(ctx, sess, log.NewNullLogger())

	sess.mu.Lock()
	sess.scriptSources["1"] = "function f(){}"
	sess.jsSnapshot = []*profiler.ScriptCoverage{
		scriptCoverage("1", "a.js", &profiler.CoverageRange{StartOffset: 0, EndOffset: 14, Count: 1}),
	}
	sess.sheetTexts["sheet1"] = ".a { color: red }"
	sess.ruleUsage = []*css.RuleUsage{
		{StyleSheetID: "sheet1", StartOffset: 0, EndOffset: 17, Used: true},
	}
	sess.mu.Unlock()

	require.NoError(t, c.StartJSCoverage(NewCoverageOptions()))
	require.NoError(t, c.StartCSSCoverage(NewCSSCoverageOptions()))

	c.js.onScriptParsed(&debugger.EventScriptParsed{ScriptID: "1", URL: "a.js"})
	c.css.onStyleSheetAdded(styleSheetAdded("sheet1", "a.css"))

	// stopping one kind leaves the other running
	jsEntries, err := c.StopJSCoverage()
	require.NoError(t, err)
	require.Len(t, jsEntries, 1)
	assert.Equal(t, "a.js", jsEntries[0].URL)

	assert.ErrorIs(t, c.StartCSSCoverage(NewCSSCoverageOptions()), ErrCoverageAlreadyStarted)

	cssEntries, err := c.StopCSSCoverage()
	require.NoError(t, err)
	require.Len(t, cssEntries, 1)
	assert.Equal(t, "a.css", cssEntries[0].URL)
	assert.Equal(t, []Range{{Start: 0, End: 17}}, cssEntries[0].Ranges)

	// both are idle now and can be restarted
	require.NoError(t, c.StartJSCoverage(NewCoverageOptions()))
	_, err = c.StopJSCoverage()
	require.NoError(t, err)
}
