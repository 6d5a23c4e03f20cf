// Copyright 2025 The repmgr Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package command

import "time"

// FakeRunner is for testing failover actions without shelling out.
type FakeRunner struct {
	// Timestamp holds each command's execution timestamp.
	Timestamp map[string]time.Time
	// Commands records every executed command in order.
	Commands []string
	// Errors maps a command to the error its execution should return.
	Errors map[string]error
	// Hook, if set, runs before each command returns; tests use it to
	// mutate cluster state mid-command.
	Hook func(cmd string)
}

var _ Runner = &FakeRunner{}

func NewFakeRunner() *FakeRunner {
	return &FakeRunner{
		Timestamp: make(map[string]time.Time),
		Errors:    make(map[string]error),
	}
}

// Run implements Runner
func (r *FakeRunner) Run(cmd string) ([]byte, error) {
	r.Timestamp[cmd] = time.Now()
	r.Commands = append(r.Commands, cmd)

	if r.Hook != nil {
		r.Hook(cmd)
	}

	return nil, r.Errors[cmd]
}
