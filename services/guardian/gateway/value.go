// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gateway

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
)

// Kind identifies the payload type of a ConfigValue.
//
// The configuration store is typed: every entry carries exactly one of
// the payload kinds below. Kind is a closed set; code that switches on
// it should handle every constant and treat anything else as corrupt.
type Kind int

const (
	// KindDword is a 32-bit unsigned integer value.
	KindDword Kind = iota

	// KindQword is a 64-bit unsigned integer value.
	KindQword

	// KindString is a single string value.
	KindString

	// KindExpandString is a string value containing unexpanded
	// environment references. The engine stores it verbatim.
	KindExpandString

	// KindMultiString is an ordered list of strings.
	KindMultiString

	// KindBinary is an opaque byte payload.
	KindBinary
)

// String returns the canonical name of the kind.
func (k Kind) String() string {
	switch k {
	case KindDword:
		return "dword"
	case KindQword:
		return "qword"
	case KindString:
		return "string"
	case KindExpandString:
		return "expand_string"
	case KindMultiString:
		return "multi_string"
	case KindBinary:
		return "binary"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// ConfigValue is one typed configuration store entry.
//
// # Description
//
// ConfigValue is a tagged variant: Kind selects which payload field is
// meaningful. Only the field matching Kind is ever read; the others stay
// at their zero value. All fields are exported so snapshots serialize
// losslessly to JSON.
//
// Absence of a value at a location is NOT modeled here; the store APIs
// return a separate boolean for that, and the mutation ledger records it
// explicitly. A zero ConfigValue is a valid dword 0.
type ConfigValue struct {
	Kind Kind `json:"kind"`

	Dword uint32   `json:"dword,omitempty"`
	Qword uint64   `json:"qword,omitempty"`
	Str   string   `json:"str,omitempty"`
	Strs  []string `json:"strs,omitempty"`
	Bytes []byte   `json:"bytes,omitempty"`
}

// Dword constructs a 32-bit integer value.
func Dword(v uint32) ConfigValue { return ConfigValue{Kind: KindDword, Dword: v} }

// Qword constructs a 64-bit integer value.
func Qword(v uint64) ConfigValue { return ConfigValue{Kind: KindQword, Qword: v} }

// String constructs a string value.
func String(v string) ConfigValue { return ConfigValue{Kind: KindString, Str: v} }

// ExpandString constructs an environment-expandable string value.
func ExpandString(v string) ConfigValue { return ConfigValue{Kind: KindExpandString, Str: v} }

// MultiString constructs an ordered multi-string value.
func MultiString(v ...string) ConfigValue { return ConfigValue{Kind: KindMultiString, Strs: v} }

// Binary constructs an opaque binary value.
func Binary(v []byte) ConfigValue { return ConfigValue{Kind: KindBinary, Bytes: v} }

// Equal reports whether two values have the same kind and payload.
//
// Multi-string comparison is order-sensitive: the store preserves order,
// so a reordered list is a different value.
func (v ConfigValue) Equal(o ConfigValue) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindDword:
		return v.Dword == o.Dword
	case KindQword:
		return v.Qword == o.Qword
	case KindString, KindExpandString:
		return v.Str == o.Str
	case KindMultiString:
		if len(v.Strs) != len(o.Strs) {
			return false
		}
		for i := range v.Strs {
			if v.Strs[i] != o.Strs[i] {
				return false
			}
		}
		return true
	case KindBinary:
		return bytes.Equal(v.Bytes, o.Bytes)
	default:
		return false
	}
}

// Display renders the value for logs. Binary payloads are truncated so a
// large blob never floods a log line.
func (v ConfigValue) Display() string {
	switch v.Kind {
	case KindDword:
		return fmt.Sprintf("dword:%d", v.Dword)
	case KindQword:
		return fmt.Sprintf("qword:%d", v.Qword)
	case KindString:
		return fmt.Sprintf("string:%q", v.Str)
	case KindExpandString:
		return fmt.Sprintf("expand_string:%q", v.Str)
	case KindMultiString:
		return fmt.Sprintf("multi_string:[%s]", strings.Join(v.Strs, ","))
	case KindBinary:
		const max = 16
		b := v.Bytes
		suffix := ""
		if len(b) > max {
			b = b[:max]
			suffix = "..."
		}
		return fmt.Sprintf("binary:%s%s(%d bytes)", hex.EncodeToString(b), suffix, len(v.Bytes))
	default:
		return v.Kind.String()
	}
}
