package regerr

// Derived from mongoose-os-mos common/multierror.
//
// Copyright (c) 2014-2019 Cesanta Software Limited
// All rights reserved
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

import (
	"bytes"
	"fmt"

	"github.com/juju/errors"
)

// MultiError bundles the failures of several independent sub-operations.
type MultiError struct {
	errs []error
}

func (e *MultiError) Error() string {
	if len(e.errs) == 1 {
		return e.errs[0].Error()
	}

	buf := bytes.NewBuffer(nil)
	fmt.Fprintf(buf, "%d error(s) occurred:", len(e.errs))
	for _, err := range e.errs {
		fmt.Fprintf(buf, "\n%s", err)
	}
	return buf.String()
}

func (e *MultiError) Errors() []error {
	return e.errs
}

// Append adds errs to err. Nil errors are skipped and the result is nil if
// nothing is left; err may be nil, a MultiError or any other error.
func Append(err error, errs ...error) error {
	var add []error
	for _, e := range errs {
		if e != nil {
			add = append(add, e)
		}
	}

	if err == nil {
		if len(add) == 0 {
			return nil
		}
		return &MultiError{add}
	}

	if m, ok := errors.Cause(err).(*MultiError); ok {
		m.errs = append(m.errs, add...)
		return m
	}
	if len(add) == 0 {
		return err
	}
	return &MultiError{append([]error{err}, add...)}
}

// Flatten returns the members of an aggregated error, or err itself.
func Flatten(err error) []error {
	if err == nil {
		return nil
	}
	if m, ok := errors.Cause(err).(*MultiError); ok {
		var result []error
		for _, e := range m.errs {
			result = append(result, Flatten(e)...)
		}
		return result
	}
	return []error{err}
}
