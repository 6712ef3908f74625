/*
 * Copyright 2015 Google Inc. All Rights Reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package symbol holds the data model shared by every other component:
// Location, CursorInfo and the set types merged by the Syncer.
package symbol

import (
	"fmt"
	"strconv"
	"strings"
)

// paddedOffsetWidth keeps byte-ordered Symbol keys sorted by location:
// path, then numeric offset, as long as offsets fit in this many digits.
const paddedOffsetWidth = 10

// Location is a stable point in source text: an absolute canonical path
// plus a byte offset within that file.
type Location struct {
	Path   string
	Offset uint32
}

// IsNull reports whether this is the zero Location (no file, built-in).
func (l Location) IsNull() bool {
	return l.Path == ""
}

// Key renders the canonical textual form used as the Symbol database key:
// "<path>,<zero-padded-offset>". Byte-ordered comparison of Key() values
// matches the lexicographic-path-then-numeric-offset total order.
func (l Location) Key() string {
	return l.Path + "," + fmt.Sprintf("%0*d", paddedOffsetWidth, l.Offset)
}

// ParseKey recovers a Location from a Symbol database key.
func ParseKey(key string) (Location, error) {
	comma := strings.LastIndexByte(key, ',')
	if comma == -1 {
		return Location{}, fmt.Errorf("symbol: malformed key %q: no comma", key)
	}
	offset, err := strconv.ParseUint(key[comma+1:], 10, 32)
	if err != nil {
		return Location{}, fmt.Errorf("symbol: malformed key %q: %w", key, err)
	}
	return Location{Path: key[:comma], Offset: uint32(offset)}, nil
}

// Less implements the total order: lexicographic on path, then numeric on offset.
func (l Location) Less(other Location) bool {
	if l.Path != other.Path {
		return l.Path < other.Path
	}
	return l.Offset < other.Offset
}

func (l Location) String() string {
	return l.Key()
}
