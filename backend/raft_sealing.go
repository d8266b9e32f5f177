// Copyright (c) 2026 TTBT Enterprises LLC
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

package backend

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/c2FmZQ/storage/crypto"
	"github.com/hashicorp/raft"
)

const (
	logKeyFile        = "log.key"
	snapshotCryptoCtx = "raft-snapshot"
)

// loadLogKey reads the key that seals raft log entries and snapshots,
// creating it on first start. The key file is encrypted with the master key.
func loadLogKey(dir string, mk crypto.MasterKey) (crypto.EncryptionKey, error) {
	path := filepath.Join(dir, logKeyFile)
	f, err := os.Open(path)
	if err == nil {
		defer f.Close()
		key, err := mk.ReadEncryptedKey(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	log.Printf("[RAFT] Generating log encryption key...")
	key, err := mk.NewKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate log key: %w", err)
	}
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer out.Close()
	if err := key.WriteEncryptedKey(out); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return key, nil
}

// sealedLogStore encrypts the payload of every log entry. Game mutations
// carry rosters and notes, which are as sensitive as the stored games.
type sealedLogStore struct {
	raft.LogStore
	key crypto.EncryptionKey
}

func (s *sealedLogStore) GetLog(index uint64, l *raft.Log) error {
	if err := s.LogStore.GetLog(index, l); err != nil {
		return err
	}
	if len(l.Data) == 0 {
		return nil
	}
	data, err := s.key.Decrypt(l.Data)
	if err != nil {
		return fmt.Errorf("failed to decrypt log index %d: %w", index, err)
	}
	l.Data = data
	return nil
}

func (s *sealedLogStore) seal(l *raft.Log) (*raft.Log, error) {
	if len(l.Data) == 0 {
		return l, nil
	}
	data, err := s.key.Encrypt(l.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt log index %d: %w", l.Index, err)
	}
	sealed := *l
	sealed.Data = data
	return &sealed, nil
}

func (s *sealedLogStore) StoreLog(l *raft.Log) error {
	return s.StoreLogs([]*raft.Log{l})
}

func (s *sealedLogStore) StoreLogs(logs []*raft.Log) error {
	sealed := make([]*raft.Log, len(logs))
	for i, l := range logs {
		var err error
		if sealed[i], err = s.seal(l); err != nil {
			return err
		}
	}
	return s.LogStore.StoreLogs(sealed)
}

// sealedSnapshotStore encrypts snapshots on disk. Open returns the plaintext
// stream, which is what raft sends to followers and restores from.
type sealedSnapshotStore struct {
	raft.SnapshotStore
	key crypto.EncryptionKey
}

func (s *sealedSnapshotStore) Create(version raft.SnapshotVersion, index, term uint64, configuration raft.Configuration, configurationIndex uint64, trans raft.Transport) (raft.SnapshotSink, error) {
	sink, err := s.SnapshotStore.Create(version, index, term, configuration, configurationIndex, trans)
	if err != nil {
		return nil, err
	}
	// The stream must not close the sink: only Close commits it.
	w, err := s.key.StartWriter([]byte(snapshotCryptoCtx), struct{ io.Writer }{sink})
	if err != nil {
		sink.Cancel()
		return nil, err
	}
	return &sealedSink{SnapshotSink: sink, w: w}, nil
}

func (s *sealedSnapshotStore) Open(id string) (*raft.SnapshotMeta, io.ReadCloser, error) {
	meta, rc, err := s.SnapshotStore.Open(id)
	if err != nil {
		return nil, nil, err
	}
	r, err := s.key.StartReader([]byte(snapshotCryptoCtx), struct{ io.Reader }{rc})
	if err != nil {
		rc.Close()
		return nil, nil, err
	}
	return meta, &openedSnapshot{Reader: r, stream: r, file: rc}, nil
}

type sealedSink struct {
	raft.SnapshotSink
	w crypto.StreamWriter
}

func (s *sealedSink) Write(p []byte) (int, error) {
	return s.w.Write(p)
}

// Close flushes the last encrypted chunk before committing the snapshot.
func (s *sealedSink) Close() error {
	if err := s.w.Close(); err != nil {
		s.SnapshotSink.Cancel()
		return err
	}
	return s.SnapshotSink.Close()
}

func (s *sealedSink) Cancel() error {
	return s.SnapshotSink.Cancel()
}

type openedSnapshot struct {
	io.Reader
	stream crypto.StreamReader
	file   io.Closer
}

func (o *openedSnapshot) Close() error {
	o.stream.Close()
	return o.file.Close()
}
