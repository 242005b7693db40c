/*
Copyright (C) 2023  Carl-Philip Hänsch

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
package main

import (
	"fmt"
	"time"

	"github.com/launix-de/easytsdb/tsdb"
)

func main() {
	fmt.Print(`easytsdb Copyright (C) 2023   Carl-Philip Hänsch
    This program comes with ABSOLUTELY NO WARRANTY;
    This is free software, and you are welcome to redistribute it
    under certain conditions;
`)

	opts := tsdb.DefaultOptions()
	opts.Directory = "demo_tsdb_data"

	db, err := tsdb.Open(opts)
	if err != nil {
		fmt.Println("open failed:", err)
		return
	}
	defer db.Close()

	now := time.Now().UnixMilli()
	db.WritePoint("temperature", 10, now-3600_000)
	db.WritePoint("temperature", 20, now)

	if err := db.Flush(); err != nil {
		fmt.Println("flush failed:", err)
		return
	}

	result, err := db.Query(now-7200_000, now+1000, "average", nil)
	if err != nil {
		fmt.Println("query failed:", err)
		return
	}
	fmt.Println("average temperature:", result)

	if err := db.Backup("demo-snapshot", true); err != nil {
		fmt.Println("backup failed:", err)
	}
}
