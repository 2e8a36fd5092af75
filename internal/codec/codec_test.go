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

package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, c Codec, data []byte) {
	t.Helper()
	enc, err := c.Encode(data)
	require.NoError(t, err)
	dec, err := c.Decode(enc)
	require.NoError(t, err)
	require.Equal(t, data, dec)
}

func TestNullCodec(t *testing.T) {
	roundTrip(t, Null{}, []byte("hello world"))
	roundTrip(t, Null{}, nil)
}

func TestDeflateCodec(t *testing.T) {
	roundTrip(t, Deflate{}, []byte("the quick brown fox jumps over the lazy dog, repeated, repeated, repeated"))
}

func TestBZipCodec(t *testing.T) {
	roundTrip(t, BZip{}, []byte("mississippi mississippi mississippi"))
}

func TestExtCodec(t *testing.T) {
	c := Ext{
		EncodeFn: func(b []byte) ([]byte, error) { return append([]byte{0xAA}, b...), nil },
		DecodeFn: func(b []byte) ([]byte, error) { return b[1:], nil },
	}
	roundTrip(t, c, []byte("payload"))
}

func TestTCBSRoundTripVariousInputs(t *testing.T) {
	cases := [][]byte{
		nil,
		[]byte("a"),
		[]byte("banana"),
		[]byte("mississippi"),
		[]byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
		make([]byte, 5000),
	}
	for _, c := range cases {
		roundTrip(t, TCBS{}, c)
	}
}

func TestTCBSMultiBlock(t *testing.T) {
	big := make([]byte, tcbsBlockSize*2+123)
	for i := range big {
		big[i] = byte(i % 251)
	}
	roundTrip(t, TCBS{}, big)
}
