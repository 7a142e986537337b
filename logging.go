/*
Copyright (C) 2026  Carl-Philip Hänsch

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
package hybridstore

import "fmt"

// logf mirrors the teacher package's plain fmt.Println-based logging
// texture (no logging framework is wired in storage/*.go either); it
// prefixes lines with the session GUID responsible when known, so
// background pager/checkpoint goroutines started via goWithSession are
// still attributable.
func logf(format string, args ...interface{}) {
	fmt.Printf("[hybridstore][%s] "+format+"\n", append([]interface{}{sessionGUIDFromContext()}, args...)...)
}
