// Package api
// Author: momentics <momentics@gmail.com>
//
// Param blob codec. Command params and replies cross processors as bytes, so
// every structured param is encoded once and decoded by the receiving link.

package api

import (
	"github.com/agilira/go-errors"
	"github.com/sugawarayuuta/sonnet"
)

// EncodeParams encodes v into a param blob no larger than MaxMsgSize.
func EncodeParams(v any) ([]byte, error) {
	b, err := sonnet.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidParams, "encode params")
	}
	if len(b) > MaxMsgSize {
		return nil, errors.New(ErrCodeInvalidParams, "params exceed message size").
			WithContext("size", len(b)).
			WithContext("max", MaxMsgSize)
	}
	return b, nil
}

// MustEncodeParams is EncodeParams for static, known-good values.
func MustEncodeParams(v any) []byte {
	b, err := EncodeParams(v)
	if err != nil {
		panic(err)
	}
	return b
}

// DecodeParams decodes a param blob into v. An empty blob leaves v untouched.
func DecodeParams(b []byte, v any) error {
	if len(b) == 0 {
		return nil
	}
	if err := sonnet.Unmarshal(b, v); err != nil {
		return errors.Wrap(err, ErrCodeInvalidParams, "decode params")
	}
	return nil
}
