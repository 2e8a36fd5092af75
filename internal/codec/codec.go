/*
Copyright (C) 2026  memkv contributors

    This program is free software: you can redistribute it and/or modify
    it under the terms of the GNU General Public License as published by
    the Free Software Foundation, either version 3 of the License, or
    (at your option) any later version.

    This program is distributed in the hope that it will be useful,
    but WITHOUT ANY WARRANTY; without even the implied warranty of
    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
    GNU General Public License for more details.

    You should have received a copy of the GNU General Public License
    along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package codec implements the optional record-value payload compressors
// named by the hash engine's Options bitmask. Per spec §1 these are
// external collaborators specified only by their encode(buf)->buf /
// decode(buf)->buf contract; the implementations here exist to give that
// contract something real to exercise.
package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// Codec is the encode/decode contract every value compressor satisfies.
type Codec interface {
	Encode(buf []byte) ([]byte, error)
	Decode(buf []byte) ([]byte, error)
}

// Null is the identity codec, used when no Options compression bit is set.
type Null struct{}

func (Null) Encode(buf []byte) ([]byte, error) { return buf, nil }
func (Null) Decode(buf []byte) ([]byte, error) { return buf, nil }

// Deflate wraps pierrec/lz4 behind the fixed encode/decode contract; named
// Deflate to match the Options.DEFLATE bit, not the deflate algorithm
// itself — the spec only pins the contract, not a specific compressor.
type Deflate struct{}

func (Deflate) Encode(buf []byte) ([]byte, error) {
	var out bytes.Buffer
	w := lz4.NewWriter(&out)
	if _, err := w.Write(buf); err != nil {
		return nil, fmt.Errorf("lz4 encode: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("lz4 encode close: %w", err)
	}
	return out.Bytes(), nil
}

func (Deflate) Decode(buf []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(buf))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("lz4 decode: %w", err)
	}
	return out, nil
}

// BZip wraps ulikunitz/xz behind the encode/decode contract for the
// Options.BZIP bit (again: contract-compatible stand-in, not bzip2 itself).
type BZip struct{}

func (BZip) Encode(buf []byte) ([]byte, error) {
	var out bytes.Buffer
	w, err := xz.NewWriter(&out)
	if err != nil {
		return nil, fmt.Errorf("xz encode: %w", err)
	}
	if _, err := w.Write(buf); err != nil {
		return nil, fmt.Errorf("xz encode: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("xz encode close: %w", err)
	}
	return out.Bytes(), nil
}

func (BZip) Decode(buf []byte) ([]byte, error) {
	r, err := xz.NewReader(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("xz decode: %w", err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("xz decode: %w", err)
	}
	return out, nil
}

// Ext is the "user codec" slot (Options.EXCODEC): an opaque pair of
// functions supplied by the host, treated as an external collaborator per
// spec §1.
type Ext struct {
	EncodeFn func([]byte) ([]byte, error)
	DecodeFn func([]byte) ([]byte, error)
}

func (e Ext) Encode(buf []byte) ([]byte, error) { return e.EncodeFn(buf) }
func (e Ext) Decode(buf []byte) ([]byte, error) { return e.DecodeFn(buf) }
