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

package adb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenStarIsMemory(t *testing.T) {
	a, err := Open("*")
	require.NoError(t, err)
	defer a.Close()
	require.Equal(t, KindMDB, a.Kind())
	require.NoError(t, a.Put([]byte("k"), []byte("v")))
	v, err := a.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, "v", string(v))
}

func TestOpenHDBPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.hdb") + "#mode=wct#bnum=17"
	a, err := Open(path)
	require.NoError(t, err)
	defer a.Close()
	require.Equal(t, KindHDB, a.Kind())
	require.NoError(t, a.Put([]byte("k"), []byte("v")))
	v, err := a.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, "v", string(v))
}

func TestOpenRejectsUnknownExtension(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "db.txt"))
	require.Error(t, err)
}

func TestMiscGetListPutList(t *testing.T) {
	a, err := Open("*")
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Misc("putlist", [][]byte{[]byte("a"), []byte("1"), []byte("b"), []byte("2")})
	require.NoError(t, err)

	out, err := a.Misc("getlist", [][]byte{[]byte("a"), []byte("b"), []byte("missing")})
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("a"), []byte("1"), []byte("b"), []byte("2")}, out)
}

func TestMiscUnknownRejected(t *testing.T) {
	a, err := Open("*")
	require.NoError(t, err)
	defer a.Close()
	_, err = a.Misc("nosuchverb", nil)
	require.Error(t, err)
}
