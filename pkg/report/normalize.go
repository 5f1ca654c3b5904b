// SPDX-License-Identifier: Apache-2.0

package report

import (
	verrors "github.com/jllopis/vigil/pkg/errors"
)

// Normalized is the canonical shape every reported failure is reduced to
// before fingerprinting and categorization. Producing it is pure: no I/O,
// no clock reads, no mutation of the input.
type Normalized struct {
	Code     verrors.ErrorCode
	Message  string
	Original error
	Context  map[string]interface{}
}

// Normalize turns any error into its canonical shape. A *VigilError keeps
// its code and carries its context through; a plain error is wrapped with a
// synthesized internal code. The caller-supplied extra map is merged on top
// of the error's own context, caller keys winning on conflict.
func Normalize(err error, extra map[string]interface{}) Normalized {
	n := Normalized{
		Code:     verrors.CodeInternal,
		Message:  "unknown error",
		Original: err,
		Context:  map[string]interface{}{},
	}

	if ve, ok := err.(*verrors.VigilError); ok && ve != nil {
		n.Code = ve.Code
		n.Message = ve.Message
		for k, v := range ve.Context {
			n.Context[k] = v
		}
	} else if err != nil {
		n.Message = err.Error()
	}

	for k, v := range extra {
		n.Context[k] = v
	}
	return n
}
