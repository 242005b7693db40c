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
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pierrec/lz4/v4"
)

const backupsDir = "easy_tsdb_backups"

func backupPath(name string) string {
	return fmt.Sprintf("%s/%s.json", backupsDir, name)
}

// backupEnvelope is the on-disk (and uploaded) shape of one backup: the
// originating directory, every shard keyed by its file name, and
// optionally a verbatim copy of the index.
type backupEnvelope struct {
	DatabaseDirectory string                  `json:"database_directory"`
	DataPoints        map[string][]point      `json:"data_points"`
	Index             *serializedIndexWithSum `json:"index,omitempty"`
}

type serializedIndexWithSum struct {
	serializedIndex
	Checksum uint32 `json:"checksum"`
}

// Backup assembles every shard (and, if includeIndex, the current
// index) into one pretty-printed JSON file under easy_tsdb_backups/. The
// two index envelope files are never themselves treated as shards. When
// Options.RemoteBackup is set, the same bytes are also uploaded to the
// configured S3-compatible bucket, lz4-compressed - the local file
// format is untouched either way.
func (db *DB) Backup(name string, includeIndex bool) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.fsa.MkdirIdempotent(backupsDir); err != nil {
		return err
	}

	names, err := db.fsa.List(db.opts.Directory)
	if err != nil {
		return err
	}

	env := backupEnvelope{
		DatabaseDirectory: db.opts.Directory,
		DataPoints:        make(map[string][]point),
	}
	for _, n := range names {
		if n == "index.json" || n == "index_backup.json" {
			continue
		}
		pts, err := readShardFile(db.fsa, db.opts.Directory+"/"+n)
		if err != nil {
			db.logger.Warn().Err(err).Str("name", n).Msg("skipping unreadable shard during backup")
			continue
		}
		env.DataPoints[n] = pts
	}

	if includeIndex {
		db.index.mu.Lock()
		si := db.index.serializeLocked()
		sum := db.index.lastPersistedChecksum
		db.index.mu.Unlock()
		env.Index = &serializedIndexWithSum{serializedIndex: si, Checksum: sum}
	}

	raw, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return newError(KindIoFault, name, err)
	}

	if err := db.fsa.WriteTextTruncating(backupPath(name), string(raw)); err != nil {
		return err
	}

	if db.opts.RemoteBackup != nil {
		if err := uploadRemoteBackup(*db.opts.RemoteBackup, name, raw); err != nil {
			db.logger.Error().Err(err).Str("name", name).Msg("remote backup upload failed, local copy is still intact")
		}
	}
	return nil
}

// Restore requires consent, loads the named backup, clears the engine,
// rewrites every shard it names, and either adopts the backup's index
// verbatim or rebuilds it from the restored shards.
func (db *DB) Restore(consent, name string, recalculateIndex bool) error {
	if consent != "YES" {
		db.logger.Warn().Msg("restore called without consent \"YES\", ignoring")
		return ErrInvalidConsent
	}

	text, err := db.fsa.ReadText(backupPath(name))
	if err != nil {
		return err
	}
	var env backupEnvelope
	if err := json.Unmarshal([]byte(text), &env); err != nil {
		return newError(KindParseError, backupPath(name), err)
	}

	if err := db.Clear("YES"); err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if env.DatabaseDirectory != "" {
		db.opts.Directory = env.DatabaseDirectory
	}
	if err := db.fsa.MkdirIdempotent(db.opts.Directory); err != nil {
		return err
	}

	for shardName, pts := range env.DataPoints {
		if err := writeShardFile(db.fsa, db.opts.Directory+"/"+shardName, pts); err != nil {
			db.logger.Error().Err(err).Str("name", shardName).Msg("failed to restore shard")
			continue
		}
		if b, ok := parseShardFileName(shardName); ok {
			db.index.MarkPresent(b)
		}
	}

	if env.Index != nil && !recalculateIndex {
		db.index.mu.Lock()
		db.index.adoptLocked(env.Index.serializedIndex)
		db.index.mu.Unlock()
	} else {
		if err := db.index.RebuildFromDisk(); err != nil {
			return err
		}
	}

	db.cache.InvalidateAll()
	return db.index.Persist()
}

// uploadRemoteBackup lz4-compresses the backup bytes and puts them to
// the configured bucket under prefix/name.json.lz4.
func uploadRemoteBackup(sink RemoteBackupSink, name string, raw []byte) error {
	ctx := context.Background()

	loadOpts := []func(*config.LoadOptions) error{}
	if sink.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(sink.Region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return newError(KindIoFault, sink.Bucket, err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if sink.Endpoint != "" {
			o.BaseEndpoint = aws.String(sink.Endpoint)
		}
	})

	compressed, err := lz4Compress(raw)
	if err != nil {
		return newError(KindIoFault, sink.Bucket, err)
	}

	key := fmt.Sprintf("%s/%s.json.lz4", sink.Prefix, name)
	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(sink.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(compressed),
	})
	if err != nil {
		return newError(KindIoFault, sink.Bucket, err)
	}
	return nil
}

func lz4Compress(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
