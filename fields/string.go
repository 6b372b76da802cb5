// Copyright 2020-2025 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fields

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/ralphje/destructify"
)

// asciiTransformer enforces strict 7-bit ASCII: any byte with the high bit
// set fails rather than passing through unchanged, unlike encoding.Nop.
type asciiTransformer struct{}

func (asciiTransformer) Reset() {}

func (asciiTransformer) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	for nSrc < len(src) {
		b := src[nSrc]
		if b >= 0x80 {
			return nDst, nSrc, fmt.Errorf("%w: byte 0x%02x is not valid 7-bit ASCII", destructify.ErrParseError, b)
		}
		if nDst >= len(dst) {
			return nDst, nSrc, transform.ErrShortDst
		}
		dst[nDst] = b
		nDst++
		nSrc++
	}
	return nDst, nSrc, nil
}

// asciiEncoding implements encoding.Encoding with asciiTransformer on both
// the decode and encode sides, since ASCII is its own byte-for-byte
// representation once validated.
type asciiEncoding struct{}

func (asciiEncoding) NewDecoder() *encoding.Decoder {
	return &encoding.Decoder{Transformer: asciiTransformer{}}
}

func (asciiEncoding) NewEncoder() *encoding.Encoder {
	return &encoding.Encoder{Transformer: asciiTransformer{}}
}

// ResolveEncoding maps a StringField encoding name to a text encoding,
// per the design document's StringField contract. Recognized names are
// "utf-8" (default), "ascii" (strict 7-bit), "utf-16", "utf-16le",
// "utf-16be", and "latin1"/"iso-8859-1".
func ResolveEncoding(name string) (encoding.Encoding, error) {
	switch strings.ToLower(name) {
	case "", "utf-8", "utf8":
		return encoding.Nop, nil
	case "ascii", "us-ascii":
		return asciiEncoding{}, nil
	case "utf-16le", "utf16le":
		return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM), nil
	case "utf-16be", "utf16be":
		return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM), nil
	case "utf-16", "utf16":
		return unicode.UTF16(unicode.BigEndian, unicode.UseBOM), nil
	case "latin1", "iso-8859-1", "iso8859-1":
		return charmap.ISO8859_1, nil
	default:
		return nil, fmt.Errorf("%w: unknown encoding %q", destructify.ErrParseError, name)
	}
}

// NewString builds a [BytesField] whose decode/encode steps convert
// to/from a Go string using the named text encoding. It is a StringField
// per the design document: "a subtype of BytesField plus encoding;
// decoder decodes bytes->string, encoder encodes string->bytes,
// otherwise identical semantics" — so length, terminator, padding, and
// strictness all work exactly as they do for a plain BytesField.
func NewString(name string, opts ...BytesOption) (*BytesField, error) {
	enc, err := ResolveEncoding(name)
	if err != nil {
		return nil, err
	}
	f := NewBytes(opts...)
	f.isString = true
	f.base.Decoder = func(raw any) (any, error) {
		b, _ := raw.([]byte)
		out, err := enc.NewDecoder().Bytes(b)
		if err != nil {
			return nil, err
		}
		return string(out), nil
	}
	f.base.Encoder = func(v any) (any, error) {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: StringField requires a string value, got %T", destructify.ErrWriteError, v)
		}
		out, err := enc.NewEncoder().Bytes([]byte(s))
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return f, nil
}
