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

	"github.com/chromecov/chromecov/log"
)

// Coverage composes the JS and CSS collectors for one session. The two
// collectors are independent: each has its own registry, subscriptions and
// start/stop lifecycle.
type Coverage struct {
	js  *JSCoverage
	css *CSSCoverage
}

// NewCoverage creates a coverage facade bound to a session.
func NewCoverage(ctx context.Context, s session, l *log.Logger) *Coverage {
	return &Coverage{
		js:  NewJSCoverage(ctx, s, l),
		css: NewCSSCoverage(ctx, s, l),
	}
}

// StartJSCoverage begins collecting script execution coverage.
func (c *Coverage) StartJSCoverage(opts CoverageOptions) error {
	return c.js.Start(opts)
}

// StopJSCoverage ends the JS collection and returns its entries.
func (c *Coverage) StopJSCoverage() ([]CoverageEntry, error) {
	return c.js.Stop()
}

// StartCSSCoverage begins collecting stylesheet rule-usage coverage.
func (c *Coverage) StartCSSCoverage(opts CSSCoverageOptions) error {
	return c.css.Start(opts)
}

// StopCSSCoverage ends the CSS collection and returns its entries.
func (c *Coverage) StopCSSCoverage() ([]CoverageEntry, error) {
	return c.css.Stop()
}
