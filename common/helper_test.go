package common

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/chromedp/cdproto/css"
	"github.com/chromedp/cdproto/debugger"
	"github.com/chromedp/cdproto/profiler"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/mailru/easyjson"

	"github.com/chromecov/chromecov/log"
)

// Ensure the fake satisfies the session interface used by the collectors.
var _ session = &fakeSession{}

// fakeSession implements the session interface to record the CDP methods
// executed against it and to serve canned command results, so collector
// behavior can be asserted without a browser.
type fakeSession struct {
	BaseEventEmitter

	mu       sync.Mutex
	cdpCalls []string

	scriptSources map[cdpruntime.ScriptID]string
	scriptErrs    map[cdpruntime.ScriptID]error
	jsSnapshot    []*profiler.ScriptCoverage

	sheetTexts map[css.StyleSheetID]string
	sheetErrs  map[css.StyleSheetID]error
	ruleUsage  []*css.RuleUsage

	execErrs map[string]error
}

func newFakeSession(ctx context.Context) *fakeSession {
	return &fakeSession{
		BaseEventEmitter: NewBaseEventEmitter(ctx),
		scriptSources:    make(map[cdpruntime.ScriptID]string),
		scriptErrs:       make(map[cdpruntime.ScriptID]error),
		sheetTexts:       make(map[css.StyleSheetID]string),
		sheetErrs:        make(map[css.StyleSheetID]error),
		execErrs:         make(map[string]error),
	}
}

func (s *fakeSession) Execute(
	ctx context.Context, method string, params easyjson.Marshaler, res easyjson.Unmarshaler,
) error {
	s.mu.Lock()
	s.cdpCalls = append(s.cdpCalls, method)
	err := s.execErrs[method]
	s.mu.Unlock()
	if err != nil {
		return err
	}

	switch r := res.(type) {
	case *debugger.GetScriptSourceReturns:
		p, ok := params.(*debugger.GetScriptSourceParams)
		if !ok {
			return errors.New("unexpected params for Debugger.getScriptSource")
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if err := s.scriptErrs[p.ScriptID]; err != nil {
			return err
		}
		src, ok := s.scriptSources[p.ScriptID]
		if !ok {
			return errors.New("no script with given id")
		}
		r.ScriptSource = src
	case *profiler.TakePreciseCoverageReturns:
		s.mu.Lock()
		defer s.mu.Unlock()
		r.Result = s.jsSnapshot
	case *css.GetStyleSheetTextReturns:
		p, ok := params.(*css.GetStyleSheetTextParams)
		if !ok {
			return errors.New("unexpected params for CSS.getStyleSheetText")
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if err := s.sheetErrs[p.StyleSheetID]; err != nil {
			return err
		}
		text, ok := s.sheetTexts[p.StyleSheetID]
		if !ok {
			return errors.New("no stylesheet with given id")
		}
		r.Text = text
	case *css.StopRuleUsageTrackingReturns:
		s.mu.Lock()
		defer s.mu.Unlock()
		r.RuleUsage = s.ruleUsage
	}
	return nil
}

func (s *fakeSession) ExecuteWithoutExpectationOnReply(
	ctx context.Context, method string, params easyjson.Marshaler, res easyjson.Unmarshaler,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cdpCalls = append(s.cdpCalls, method)
	return nil
}

func (s *fakeSession) ID() target.SessionID { return "session_0123456789" }

func (s *fakeSession) Done() <-chan struct{} { return nil }

func (s *fakeSession) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	calls := make([]string, len(s.cdpCalls))
	copy(calls, s.cdpCalls)
	return calls
}

func (s *fakeSession) failWith(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execErrs[method] = err
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

func newTestJSCoverage(t *testing.T) (*JSCoverage, *fakeSession) {
	t.Helper()
	ctx := testContext(t)
	sess := newFakeSession(ctx)
	return NewJSCoverage(ctx, sess, log.NewNullLogger()), sess
}

func newTestCSSCoverage(t *testing.T) (*CSSCoverage, *fakeSession) {
	t.Helper()
	ctx := testContext(t)
	sess := newFakeSession(ctx)
	return NewCSSCoverage(ctx, sess, log.NewNullLogger()), sess
}
