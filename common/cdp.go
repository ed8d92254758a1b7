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

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/mailru/easyjson"
)

// Action is a single CDP command ready to run against an executor.
type Action interface {
	Do(context.Context) error
}

type executorEmitter interface {
	cdp.Executor
	EventEmitter
}

// session is how the collectors talk to their target: command execution plus
// the notification stream. Satisfied by Session; faked in tests.
type session interface {
	executorEmitter
	ExecuteWithoutExpectationOnReply(context.Context, string, easyjson.Marshaler, easyjson.Unmarshaler) error
	ID() target.SessionID
	Done() <-chan struct{}
}

// Transport is the wire half of a CDP connection. This package never dials
// or frames anything itself: the embedding application implements Send and
// routes every inbound message for the session to Session.Deliver.
type Transport interface {
	Send(msg *cdproto.Message) error
}
