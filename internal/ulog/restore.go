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

package ulog

import "io"

// Restore replays every logged entry with Ts <= upToTs (0 means "no
// limit") through apply, in log order, starting from the oldest retained
// segment. It holds LockAll for the duration so no concurrent Append-
// driven mutation can race the replay (spec §4.F "point-in-time restore").
func (u *ULog) Restore(upToTs uint64, apply func(Entry) error) error {
	u.LockAll()
	defer u.UnlockAll()

	r, err := NewReader(u.dir, 0, 0)
	if err != nil {
		return err
	}
	defer r.Close()

	for {
		e, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if upToTs != 0 && e.Ts > upToTs {
			return nil
		}
		if err := apply(e); err != nil {
			return err
		}
	}
}
