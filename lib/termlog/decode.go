// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package termlog

import (
	"errors"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Decoder converts successive byte chunks into valid UTF-8 text.
// Invalid bytes become U+FFFD. A multi-byte sequence cut off at the end
// of a chunk is held back and completed by the next chunk instead of
// being replaced, so the decoded stream does not depend on read
// boundaries.
//
// A Decoder is used by a single reader goroutine.
type Decoder struct {
	transformer transform.Transformer
	pending     []byte
}

// NewDecoder returns a Decoder with no pending bytes.
func NewDecoder() *Decoder {
	return &Decoder{transformer: unicode.UTF8.NewDecoder()}
}

// Decode returns the text for chunk, prefixed by any bytes held back
// from the previous call.
func (decoder *Decoder) Decode(chunk []byte) string {
	return decoder.transform(chunk, false)
}

// Flush returns any held-back bytes as replacement characters. Call it
// once the stream has ended.
func (decoder *Decoder) Flush() string {
	return decoder.transform(nil, true)
}

func (decoder *Decoder) transform(chunk []byte, atEOF bool) string {
	source := chunk
	if len(decoder.pending) > 0 {
		source = make([]byte, 0, len(decoder.pending)+len(chunk))
		source = append(source, decoder.pending...)
		source = append(source, chunk...)
		decoder.pending = nil
	}
	if len(source) == 0 {
		return ""
	}

	// Each invalid byte expands to the three-byte U+FFFD.
	destination := make([]byte, 3*len(source)+utf8.UTFMax)
	written, consumed, err := decoder.transformer.Transform(destination, source, atEOF)
	if errors.Is(err, transform.ErrShortSrc) {
		decoder.pending = append([]byte(nil), source[consumed:]...)
	}
	return string(destination[:written])
}
