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

	"github.com/dbonne/repmgr/pkg/config"
	flag "github.com/spf13/pflag"
)

// Version is the daemon version reported by --version.
const Version = "1.0.0"

// exit codes
const (
	exitSuccess       = 0
	exitErrBadConfig  = 1
	exitErrBadPidfile = 2
	exitErrSysFailure = 3
)

var (
	// helpFlag is a cli-flag that prints the help text and exits.
	helpFlag bool
	// versionFlag is a cli-flag that prints the version and exits.
	versionFlag bool
	// configFileFlag is a cli-flag that specifies the configuration file path.
	configFileFlag string
	// daemonizeFlag is a cli-flag that detaches the process from the terminal.
	daemonizeFlag bool
	// pidFileFlag is a cli-flag that specifies the PID file path.
	pidFileFlag string
	// logLevelFlag is a cli-flag that overrides the configured log level.
	logLevelFlag string
	// verboseFlag is a cli-flag that enables verbose logging.
	verboseFlag bool
	// monitoringHistoryFlag is a legacy cli-flag that overrides the
	// configuration to enable monitoring history.
	monitoringHistoryFlag bool
)

// parseAllFlags parses all defined cmd-flags.
func parseAllFlags(args []string) error {
	fs := flag.NewFlagSet("repmgrd", flag.ContinueOnError)
	fs.Usage = showUsage

	fs.BoolVarP(&helpFlag, "help", "?", false, "show this help, then exit")
	fs.BoolVarP(&versionFlag, "version", "V", false, "output version information, then exit")
	fs.StringVarP(&configFileFlag, "config-file", "f", "", "path to the configuration file")
	fs.BoolVarP(&daemonizeFlag, "daemonize", "d", false, "detach process from the terminal")
	fs.StringVarP(&pidFileFlag, "pid-file", "p", "", "write a PID file")
	fs.StringVarP(&logLevelFlag, "log-level", "L", "", "set log level (overrides configuration file)")
	fs.BoolVarP(&verboseFlag, "verbose", "v", false, "display additional log output")
	fs.BoolVarP(&monitoringHistoryFlag, "monitoring-history", "m", false, "enable monitoring history (legacy)")

	return fs.Parse(args)
}

// validateAllFlags validates all cmd flags.
func validateAllFlags() error {
	if configFileFlag == "" {
		return fmt.Errorf("no configuration file provided, use -f/--config-file")
	}

	if logLevelFlag != "" && !config.IsValidLogLevel(logLevelFlag) {
		return fmt.Errorf("invalid log level %q provided", logLevelFlag)
	}

	return nil
}

func showUsage() {
	fmt.Fprintf(os.Stderr, "repmgrd: replication management daemon\nTry \"repmgrd --help\" for more information.\n")
}

func showHelp() {
	fmt.Printf(`repmgrd: replication management daemon

Usage:
  repmgrd [OPTIONS]

General options:
  -?, --help                 show this help, then exit
  -V, --version              output version information, then exit

Configuration options:
  -f, --config-file=PATH     path to the configuration file

Daemon options:
  -d, --daemonize            detach process from the terminal
  -p, --pid-file=PATH        write a PID file

Logging options:
  -L, --log-level=LEVEL      set log level (debug/info/warning/error)
  -v, --verbose              display additional log output

Legacy options:
  -m, --monitoring-history   enable monitoring history
`)
}
