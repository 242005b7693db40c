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
package tsdb

import (
	"time"

	"github.com/docker/go-units"
	"github.com/rs/zerolog"
)

// RemoteBackupSink uploads backups to an S3-compatible bucket as a
// secondary copy after the local backup file is written. Compression
// uses lz4 on the uploaded object only; the local file stays plain
// pretty-printed JSON regardless.
type RemoteBackupSink struct {
	Bucket   string
	Prefix   string
	Endpoint string // optional, for S3-compatible non-AWS endpoints
	Region   string
}

// Options configures a DB instance. Every field has a documented
// default; callers override only what they need.
type Options struct {
	Directory        string
	Frame            Frame
	RAMCeilingBytes  int
	AutosaveInterval time.Duration
	Logger           *zerolog.Logger
	RemoteBackup     *RemoteBackupSink
	ArchiveDir       string // cold-archive-on-purge destination, optional
	WatchDirectory   bool   // fsnotify-driven external change detection, optional
}

const (
	defaultDirectory        = "easy_timeseries_db"
	defaultRAMCeilingBytes  = 204800
	defaultAutosaveInterval = 600 * time.Second
)

// DefaultOptions returns the package's documented defaults.
func DefaultOptions() Options {
	return Options{
		Directory:        defaultDirectory,
		Frame:            FrameHour,
		RAMCeilingBytes:  defaultRAMCeilingBytes,
		AutosaveInterval: defaultAutosaveInterval,
	}
}

func (o Options) withDefaults() Options {
	if o.Directory == "" {
		o.Directory = defaultDirectory
	}
	if o.RAMCeilingBytes == 0 {
		o.RAMCeilingBytes = defaultRAMCeilingBytes
	}
	if o.AutosaveInterval == 0 {
		o.AutosaveInterval = defaultAutosaveInterval
	}
	return o
}

// ParseRAMCeiling accepts either a raw byte count or a human-readable
// size string such as "200KiB" / "200KB", the same convenience
// docker/go-units exists to give Docker's own flag parsing.
func ParseRAMCeiling(human string) (int, error) {
	n, err := units.FromHumanSize(human)
	if err != nil {
		return 0, newError(KindIoFault, human, err)
	}
	return int(n), nil
}
