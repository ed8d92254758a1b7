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
	"sort"
	"sync"
)

// resourceRegistry maps backend-issued resource ids to the URL and full
// source text of a script or stylesheet. Each collector owns one instance;
// it is populated by notification handlers and cleared wholesale on start
// and on navigation resets.
type resourceRegistry struct {
	mu    sync.RWMutex
	urls  map[string]string
	texts map[string]string
}

func newResourceRegistry() *resourceRegistry {
	return &resourceRegistry{
		urls:  make(map[string]string),
		texts: make(map[string]string),
	}
}

// set registers a complete record for id. Records are only ever inserted
// whole, so a reader never observes a resource with a URL but no text.
// Duplicate notifications for the same id overwrite the earlier record.
func (r *resourceRegistry) set(id, url, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.urls[id] = url
	r.texts[id] = text
}

func (r *resourceRegistry) url(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	url, ok := r.urls[id]
	return url, ok
}

func (r *resourceRegistry) text(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	text, ok := r.texts[id]
	return text, ok
}

// ids returns a sorted snapshot of the registered resource ids.
func (r *resourceRegistry) ids() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.urls))
	for id := range r.urls {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *resourceRegistry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.urls)
}

// clear drops all records. Both maps are swapped under the same write lock,
// so a reset never leaves a partial registry behind. A text fetch already in
// flight when clear runs may still insert its record afterwards; that record
// is kept and treated as new data rather than discarded.
func (r *resourceRegistry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.urls = make(map[string]string)
	r.texts = make(map[string]string)
}
