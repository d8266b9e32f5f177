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
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"

	"github.com/c2FmZQ/storage"
	"github.com/hashicorp/raft"
)

const (
	nodesFile    = "nodes.json"
	fsmStateFile = "fsm_state.json"
)

// fsmState is persisted at each snapshot so that a restarting node can tell
// whether its stores already reflect a snapshot.
type fsmState struct {
	LastAppliedIndex uint64 `json:"lastAppliedIndex"`
}

// FSM implements the raft.FSM interface. Every committed command is applied
// through the same applier the standalone server uses.
type FSM struct {
	applier *applier
	storage *storage.Storage

	nodeMap          sync.Map // map[string]*NodeMeta
	lastAppliedIndex atomic.Uint64
}

// NewFSM creates the FSM of a Scorekeeper.
func NewFSM(sk *Scorekeeper, s *storage.Storage) *FSM {
	f := &FSM{
		applier: sk.applier,
		storage: s,
	}
	if s != nil {
		f.loadNodes()
	}
	return f
}

// LastAppliedIndex returns the index of the last applied log entry.
func (f *FSM) LastAppliedIndex() uint64 {
	return f.lastAppliedIndex.Load()
}

func (f *FSM) loadNodes() {
	var nodes map[string]*NodeMeta
	if err := f.storage.ReadDataFile(nodesFile, &nodes); err != nil {
		if !os.IsNotExist(err) {
			log.Printf("FSM Error: failed to read %s: %v", nodesFile, err)
		}
		return
	}
	for k, v := range nodes {
		f.nodeMap.Store(k, v)
	}
}

func (f *FSM) saveNodes() {
	if f.storage == nil {
		return
	}
	if err := f.storage.SaveDataFile(nodesFile, f.nodes()); err != nil {
		log.Printf("FSM Error: failed to save %s: %v", nodesFile, err)
	}
}

func (f *FSM) nodes() map[string]*NodeMeta {
	nodes := make(map[string]*NodeMeta)
	f.nodeMap.Range(func(k, v any) bool {
		nodes[k.(string)] = v.(*NodeMeta)
		return true
	})
	return nodes
}

// localIndex returns the applied index recorded at the last snapshot.
func (f *FSM) localIndex() uint64 {
	if f.storage == nil {
		return 0
	}
	var state fsmState
	if err := f.storage.ReadDataFile(fsmStateFile, &state); err != nil {
		return 0
	}
	return state.LastAppliedIndex
}

func (f *FSM) saveState(index uint64) {
	if f.storage == nil {
		return
	}
	if err := f.storage.SaveDataFile(fsmStateFile, fsmState{LastAppliedIndex: index}); err != nil {
		log.Printf("FSM Error: failed to save %s: %v", fsmStateFile, err)
	}
}

// GetNodeAddr returns the HTTP address of a node, or "".
func (f *FSM) GetNodeAddr(nodeID string) string {
	if meta := f.GetNodeMeta(nodeID); meta != nil {
		return meta.HttpAddr
	}
	return ""
}

// GetNodeMeta returns the metadata a node announced, or nil.
func (f *FSM) GetNodeMeta(nodeID string) *NodeMeta {
	if val, ok := f.nodeMap.Load(nodeID); ok {
		return val.(*NodeMeta)
	}
	return nil
}

// Apply applies a Raft log entry. The response is a *MutationResult for
// game mutations, an error when the command was rejected, and nil otherwise.
func (f *FSM) Apply(l *raft.Log) any {
	defer f.lastAppliedIndex.Store(l.Index)
	if len(l.Data) == 0 {
		return nil
	}
	var cmd RaftCommand
	if err := json.Unmarshal(l.Data, &cmd); err != nil {
		log.Printf("FSM Apply Error: failed to decode command: %v", err)
		return err
	}
	return f.applyCommand(cmd, l.Index)
}

func (f *FSM) applyCommand(cmd RaftCommand, index uint64) any {
	switch cmd.Type {
	case CmdGameMutation:
		if cmd.Mutation == nil {
			return fmt.Errorf("missing mutation")
		}
		res, err := f.applier.applyGame(context.Background(), cmd.Mutation, index)
		if err != nil {
			return err
		}
		return res
	case CmdSaveTeam:
		if cmd.TeamData == nil {
			return fmt.Errorf("missing team data")
		}
		if err := f.applier.applySaveTeam(cmd.TeamData, index); err != nil {
			return err
		}
		return nil
	case CmdDeleteTeam:
		if err := f.applier.applyDeleteTeam(cmd.ID, index); err != nil {
			return err
		}
		return nil
	case CmdNodeMeta:
		if cmd.NodeMeta == nil {
			return fmt.Errorf("missing node meta")
		}
		f.nodeMap.Store(cmd.NodeMeta.NodeID, cmd.NodeMeta)
		f.saveNodes()
		return nil
	case CmdNodeLeft:
		if cmd.NodeMeta == nil {
			return fmt.Errorf("missing node meta for leave")
		}
		f.nodeMap.Delete(cmd.NodeMeta.NodeID)
		f.saveNodes()
		return nil
	case CmdUpdateAccessPolicy:
		if cmd.PolicyData == nil {
			return fmt.Errorf("missing policy data")
		}
		if err := f.applier.applyAccessPolicy(cmd.PolicyData); err != nil {
			return err
		}
		return nil
	default:
		return fmt.Errorf("unknown command type: %s", cmd.Type)
	}
}
