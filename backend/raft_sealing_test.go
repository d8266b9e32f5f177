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
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/c2FmZQ/storage/crypto"
	"github.com/hashicorp/raft"
)

func newTestLogKey(t *testing.T) (string, crypto.MasterKey, crypto.EncryptionKey) {
	t.Helper()
	mk, err := crypto.CreateAESMasterKeyForTest()
	if err != nil {
		t.Fatalf("CreateAESMasterKeyForTest: %v", err)
	}
	dir := t.TempDir()
	key, err := loadLogKey(dir, mk)
	if err != nil {
		t.Fatalf("loadLogKey: %v", err)
	}
	return dir, mk, key
}

func TestLoadLogKey(t *testing.T) {
	dir, mk, key := newTestLogKey(t)
	if _, err := os.Stat(filepath.Join(dir, logKeyFile)); err != nil {
		t.Fatalf("key file not created: %v", err)
	}

	// The second start reads the same key back.
	again, err := loadLogKey(dir, mk)
	if err != nil {
		t.Fatalf("loadLogKey (reload): %v", err)
	}
	ct, err := key.Encrypt([]byte("at-bat"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	pt, err := again.Decrypt(ct)
	if err != nil || string(pt) != "at-bat" {
		t.Errorf("Decrypt with reloaded key = %q, %v", pt, err)
	}
}

func TestSealedLogStore(t *testing.T) {
	_, _, key := newTestLogKey(t)
	inner := raft.NewInmemStore()
	store := &sealedLogStore{LogStore: inner, key: key}

	payload := []byte(`{"type":"GAME_MUTATION","id":"secret-game"}`)
	logs := []*raft.Log{
		{Index: 1, Term: 1, Type: raft.LogCommand, Data: payload},
		{Index: 2, Term: 1, Type: raft.LogNoop},
	}
	if err := store.StoreLogs(logs); err != nil {
		t.Fatalf("StoreLogs: %v", err)
	}
	if !bytes.Equal(logs[0].Data, payload) {
		t.Error("StoreLogs modified the caller's entry")
	}

	// 1. At rest the payload is sealed.
	var raw raft.Log
	if err := inner.GetLog(1, &raw); err != nil {
		t.Fatalf("inner GetLog: %v", err)
	}
	if bytes.Contains(raw.Data, []byte("secret-game")) {
		t.Error("log payload stored in the clear")
	}

	// 2. Reads through the store see the plaintext.
	var got raft.Log
	if err := store.GetLog(1, &got); err != nil {
		t.Fatalf("GetLog: %v", err)
	}
	if !bytes.Equal(got.Data, payload) {
		t.Errorf("GetLog data = %q", got.Data)
	}
	if err := store.GetLog(2, &got); err != nil || len(got.Data) != 0 {
		t.Errorf("GetLog(noop) = %q, %v", got.Data, err)
	}

	// 3. A single entry goes through the same path.
	if err := store.StoreLog(&raft.Log{Index: 3, Term: 1, Type: raft.LogCommand, Data: []byte("three")}); err != nil {
		t.Fatalf("StoreLog: %v", err)
	}
	if err := store.GetLog(3, &got); err != nil || string(got.Data) != "three" {
		t.Errorf("GetLog(3) = %q, %v", got.Data, err)
	}
}

func TestSealedSnapshotStore(t *testing.T) {
	_, _, key := newTestLogKey(t)
	dir := t.TempDir()
	fss, err := raft.NewFileSnapshotStore(dir, 2, io.Discard)
	if err != nil {
		t.Fatalf("NewFileSnapshotStore: %v", err)
	}
	store := &sealedSnapshotStore{SnapshotStore: fss, key: key}

	content := bytes.Repeat([]byte("opponent:Tigers "), 1000)
	sink, err := store.Create(raft.SnapshotVersionMax, 10, 2, raft.Configuration{}, 1, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := sink.Write(content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	snaps, err := store.List()
	if err != nil || len(snaps) != 1 {
		t.Fatalf("List = %v, %v", snaps, err)
	}
	raw, err := os.ReadFile(filepath.Join(dir, "snapshots", snaps[0].ID, "state.bin"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if bytes.Contains(raw, []byte("opponent:Tigers")) {
		t.Error("snapshot stored in the clear")
	}

	meta, rc, err := store.Open(snaps[0].ID)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if meta.Index != 10 {
		t.Errorf("meta.Index = %d, want 10", meta.Index)
	}
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("snapshot content mismatch: %d bytes, want %d", len(got), len(content))
	}
	if err := rc.Close(); err != nil {
		t.Errorf("Close of opened snapshot: %v", err)
	}

	// A canceled snapshot is not listed.
	sink, err = store.Create(raft.SnapshotVersionMax, 11, 2, raft.Configuration{}, 1, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	sink.Write([]byte("partial"))
	if err := sink.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if snaps, _ := store.List(); len(snaps) != 1 || snaps[0].Index != 10 {
		t.Errorf("List after cancel = %+v, want only index 10", snaps)
	}
}
