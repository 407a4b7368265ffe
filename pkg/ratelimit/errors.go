// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package ratelimit

import (
	"errors"
	"fmt"
)

var (
	// ErrLimited is matched by every DeniedError.
	ErrLimited = errors.New("rate limited")

	ErrInvalidIdentifier = errors.New("user id must not be empty")
)

// DeniedError turns a blocking Result into an error.
type DeniedError struct {
	Result *Result
}

func (e *DeniedError) Error() string {
	r := e.Result
	if r == nil {
		return ErrLimited.Error()
	}
	if r.Oversized {
		return fmt.Sprintf("%s charge exceeds the whole %s limit of %d", r.LimitType, r.Window, r.Limit)
	}
	return fmt.Sprintf("%s limit of %d per %s reached, retry in %ds", r.LimitType, r.Limit, r.Window, r.RetryAfterSeconds)
}

func (e *DeniedError) Unwrap() error { return ErrLimited }

// DeniedBy returns the Result carried by a DeniedError in err's chain.
func DeniedBy(err error) *Result {
	var de *DeniedError
	if errors.As(err, &de) {
		return de.Result
	}
	return nil
}

// ArgumentError rejects a malformed check before the store is read.
type ArgumentError struct {
	Field  string
	Reason string
}

func (e *ArgumentError) Error() string {
	return "invalid " + e.Field + ": " + e.Reason
}

func badArgument(field, format string, args ...any) error {
	return &ArgumentError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
