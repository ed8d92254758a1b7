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
	"errors"
	"sync/atomic"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/mailru/easyjson"
	"golang.org/x/net/context"

	"github.com/chromecov/chromecov/log"
)

// Ensure Session implements the session and cdp.Executor interfaces.
var (
	_ session      = &Session{}
	_ cdp.Executor = &Session{}
)

// ErrSessionClosed is returned by commands issued after the session was
// closed.
var ErrSessionClosed = errors.New("session closed")

// Session demultiplexes CDP traffic for a single target: it correlates
// command replies by message ID and decodes notifications into typed cdproto
// events, which it emits by method name. The wire itself belongs to the
// Transport.
type Session struct {
	BaseEventEmitter

	ctx       context.Context
	transport Transport
	id        target.SessionID
	logger    *log.Logger
	msgID     int64
	readCh    chan *cdproto.Message
	done      chan struct{}
	closed    bool
}

// NewSession creates a new session on top of t.
func NewSession(ctx context.Context, t Transport, id target.SessionID, l *log.Logger) *Session {
	s := Session{
		BaseEventEmitter: NewBaseEventEmitter(ctx),
		ctx:              ctx,
		transport:        t,
		id:               id,
		logger:           l,
		readCh:           make(chan *cdproto.Message),
		done:             make(chan struct{}),
	}
	s.logger.Debugf("Session:NewSession", "sid:%v", id)
	go s.readLoop()
	return &s
}

// ID returns the session ID.
func (s *Session) ID() target.SessionID {
	return s.id
}

// Done is closed when the session is.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close stops the read loop and notifies subscribers. Commands issued after
// Close return ErrSessionClosed.
func (s *Session) Close() {
	if s.closed {
		return
	}

	s.logger.Debugf("Session:Close", "sid:%v", s.id)
	close(s.done)
	s.closed = true

	s.emit(EventSessionClosed, nil)
}

// Deliver hands an incoming message addressed to this session to its read
// loop. The transport's owner calls it from whatever goroutine reads the
// wire.
func (s *Session) Deliver(msg *cdproto.Message) {
	select {
	case s.readCh <- msg:
	case <-s.done:
	}
}

func (s *Session) readLoop() {
	for {
		select {
		case msg := <-s.readCh:
			ev, err := cdproto.UnmarshalMessage(msg)
			if err != nil {
				var uerr cdp.ErrUnknownCommandOrEvent
				if errors.As(err, &uerr) {
					// Either a command reply (no method at all) or an event
					// this cdproto version doesn't know. Emit the raw
					// message; Execute's reply handler picks it up by ID.
					s.emit("", msg)
					continue
				}
				s.logger.Errorf("Session:readLoop", "sid:%v %s", s.id, err)
				continue
			}
			s.emit(string(msg.Method), ev)
		case <-s.done:
			return
		}
	}
}

// Execute implements the cdp.Executor interface.
func (s *Session) Execute(
	ctx context.Context, method string, params easyjson.Marshaler, res easyjson.Unmarshaler,
) error {
	if s.closed {
		return ErrSessionClosed
	}

	id := atomic.AddInt64(&s.msgID, 1)

	// Set up an event handler to block on the reply to the message being
	// sent. The handler is removed by cancelling its context once the
	// matching reply arrived.
	ch := make(chan *cdproto.Message, 1)
	evCancelCtx, evCancelFn := context.WithCancel(ctx)
	chEvHandler := make(chan Event)
	go func() {
		for {
			select {
			case <-evCancelCtx.Done():
				return
			case ev := <-chEvHandler:
				if msg, ok := ev.data.(*cdproto.Message); ok && msg.ID == id {
					select {
					case <-evCancelCtx.Done():
					case ch <- msg:
						// Only one reply carries this message ID.
						evCancelFn()
						return
					}
				}
			}
		}
	}()
	s.onAll(evCancelCtx, chEvHandler)
	defer evCancelFn()

	if err := s.send(id, method, params); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrSessionClosed
	case msg := <-ch:
		switch {
		case msg.Error != nil:
			return msg.Error
		case res != nil:
			return easyjson.Unmarshal(msg.Result, res)
		}
	}
	return nil
}

// ExecuteWithoutExpectationOnReply sends a command and does not wait for its
// reply.
func (s *Session) ExecuteWithoutExpectationOnReply(
	ctx context.Context, method string, params easyjson.Marshaler, res easyjson.Unmarshaler,
) error {
	if s.closed {
		return ErrSessionClosed
	}
	return s.send(atomic.AddInt64(&s.msgID, 1), method, params)
}

func (s *Session) send(id int64, method string, params easyjson.Marshaler) error {
	var buf []byte
	if params != nil {
		var err error
		buf, err = easyjson.Marshal(params)
		if err != nil {
			return err
		}
	}
	return s.transport.Send(&cdproto.Message{
		ID:        id,
		SessionID: s.id,
		Method:    cdproto.MethodType(method),
		Params:    buf,
	})
}
