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

package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
)

// daemonizedEnvVar marks the re-executed child so it does not daemonize
// again.
const daemonizedEnvVar = "REPMGRD_DAEMONIZED"

// daemonizeProcess detaches the daemon from the controlling terminal by
// re-executing itself in a new session with the standard streams redirected
// to /dev/null and the working directory moved to the configuration file's
// directory. The parent exits once the child has started.
func daemonizeProcess() error {
	if os.Getenv(daemonizedEnvVar) != "" {
		// we are the detached child
		os.Unsetenv(daemonizedEnvVar)
		return nil
	}

	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("unable to open %s: %w", os.DevNull, err)
	}
	defer devnull.Close()

	dir := filepath.Dir(configFileFlag)
	if dir == "" {
		dir = "/"
	}

	cmd := exec.Command(os.Args[0], os.Args[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), daemonizedEnvVar+"=1")
	cmd.Stdin = devnull
	cmd.Stdout = devnull
	cmd.Stderr = devnull
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("unable to detach process: %w", err)
	}

	os.Exit(exitSuccess)
	return nil
}
