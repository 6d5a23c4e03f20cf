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
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	apiv0 "github.com/dbonne/repmgr/cmd/repmgrd/api/v0"
	"github.com/dbonne/repmgr/pkg/command"
	"github.com/dbonne/repmgr/pkg/config"
	"github.com/dbonne/repmgr/pkg/monitor"
	"github.com/dbonne/repmgr/pkg/postgres"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := parseAllFlags(os.Args[1:]); err != nil {
		showUsage()
		return exitErrBadConfig
	}

	if helpFlag {
		showHelp()
		return exitSuccess
	}

	if versionFlag {
		fmt.Printf("repmgrd %s\n", Version)
		return exitSuccess
	}

	// disallow running as root
	if os.Geteuid() == 0 {
		fmt.Fprintln(os.Stderr, "repmgrd: cannot be run as root\n"+
			"Please log in (using, e.g., \"su\") as the (unprivileged) user that owns the data directory.")
		return exitErrBadConfig
	}

	if err := validateAllFlags(); err != nil {
		fmt.Fprintf(os.Stderr, "repmgrd: %v\n", err)
		showUsage()
		return exitErrBadConfig
	}

	cfg, err := config.Load(configFileFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "repmgrd: %v\n", err)
		return exitErrBadConfig
	}

	// some configuration file items can be overridden by command line options
	if logLevelFlag != "" {
		cfg.LogLevel = logLevelFlag
	}
	if monitoringHistoryFlag {
		cfg.MonitoringHistory = true
	}

	logger, err := setupGlobalLogger(cfg.LogLevel, verboseFlag, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "repmgrd: %v\n", err)
		return exitErrBadConfig
	}

	if daemonizeFlag {
		if err := daemonizeProcess(); err != nil {
			logger.Error("daemonization failed", "error", err)
			return exitErrSysFailure
		}
	}

	if pidFileFlag != "" {
		if err := checkAndCreatePIDFile(pidFileFlag); err != nil {
			logger.Error("PID file check failed", "error", err)
			return exitErrBadPidfile
		}
		defer removePIDFile(pidFileFlag)
	}

	logger.Info("connecting to database", "conninfo", cfg.ConnInfo)

	// abort if the local node is not available at startup
	connector := postgres.NewDefaultConnector(logger, cfg.PrimaryResponseTimeoutDuration())
	localConn, err := connector.Connect(cfg.ConnInfo)
	if err != nil {
		logger.Error("unable to connect to local node", "error", err)
		return exitErrBadConfig
	}

	// the absence of a node record indicates that either the node or the
	// cluster metadata has not been properly set up
	record, err := localConn.NodeRecord(cfg.NodeID)
	if err != nil {
		if errors.Is(err, postgres.ErrNodeRecordNotFound) {
			logger.Error("no metadata record found for this node - terminating",
				"hint", "check that the node was registered with the cluster")
		} else {
			logger.Error("unable to retrieve node record", "error", err)
		}
		localConn.Close()
		return exitErrBadConfig
	}
	localNodeInfo := *record

	logger.Debug("node record retrieved",
		"node_id", localNodeInfo.NodeID,
		"upstream_node_id", localNodeInfo.UpstreamNodeID)

	// an inactive node is not a failover candidate: fatal under automatic
	// failover, passive monitoring only under manual
	if !localNodeInfo.Active {
		switch cfg.FailoverMode {
		case config.FailoverAutomatic:
			logger.Error("this node is marked as inactive and cannot be used as a failover target",
				"hint", "check that the node was registered with the cluster")
			localConn.Close()
			return exitErrBadConfig
		case config.FailoverManual:
			logger.Warn("this node is marked as inactive and will be passively monitored only")
		}
	}

	m := monitor.NewMonitor(
		logger,
		cfg,
		monitor.Connector(connector),
		monitor.CommandRunner(command.NewDefaultRunner(logger)),
		monitor.LocalSession(localConn),
		monitor.LocalNodeInfo(localNodeInfo),
	)

	// start goroutines
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wg := new(sync.WaitGroup)

	wg.Add(1)
	go func() {
		defer wg.Done()
		m.Run(ctx)
		// an unmonitorable node type ends the run cleanly
		cancel()
	}()

	if cfg.EnablePrometheusExporter {
		wg.Add(1)
		go startPrometheusExporterServer(ctx, wg, cfg)
	}

	if cfg.EnableHTTPAPI {
		wg.Add(1)
		go startHTTPAPIServer(ctx, wg, cfg, m)
	}

	// wait for signals
	signal.Ignore(syscall.SIGPIPE)

	reloadSigCh := make(chan os.Signal, 1)
	signal.Notify(reloadSigCh, syscall.SIGHUP)

	stopSigCh := make(chan os.Signal, 3)
	signal.Notify(stopSigCh, os.Interrupt, syscall.SIGQUIT, syscall.SIGTERM)

signalLoop:
	for {
		select {
		case <-reloadSigCh:
			m.RequestReload()
		case <-stopSigCh:
			logger.Info("got stop signal, exiting")
			break signalLoop
		case <-ctx.Done():
			break signalLoop
		}
	}

	// stop all goroutines
	cancel()
	wg.Wait()
	m.Close()

	logger.Info("repmgrd terminated")
	return exitSuccess
}

// startPrometheusExporterServer starts the HTTP server that serves the
// prometheus-exporter endpoint.
func startPrometheusExporterServer(
	ctx context.Context,
	wg *sync.WaitGroup,
	cfg *config.Config,
) {
	defer wg.Done()

	// Setup
	e := echo.New()
	setEchoLogLevel(e, cfg.LogLevel)

	reg := monitor.NewPrometheusMetricRegistry()
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	// Start server
	addr := fmt.Sprintf(":%d", cfg.PrometheusExporterPort)

	ch := make(chan bool, 1)
	go func(ch chan<- bool) {
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			e.Logger.Fatal("shutting down the server")
		}

		ch <- true
	}(ch)

	<-ctx.Done()
	if err := e.Shutdown(context.Background()); err != nil {
		e.Logger.Fatal(err)
	}
	<-ch
}

// startHTTPAPIServer starts the HTTP API server that serves the daemon
// status responder.
func startHTTPAPIServer(
	ctx context.Context,
	wg *sync.WaitGroup,
	cfg *config.Config,
	m *monitor.Monitor,
) {
	defer wg.Done()

	// Setup
	e := echo.New()
	e.Use(apiv0.UseMonitorStatus(m))
	setEchoLogLevel(e, cfg.LogLevel)
	if cfg.LogLevel == "debug" {
		e.Use(middleware.Logger())
	}

	e.HEAD("/healthcheck", apiv0.HealthCheckEndpoint)
	e.GET("/healthcheck", apiv0.HealthCheckEndpoint)
	e.GET("/status", apiv0.GetMonitorStatus)

	// Start server
	addr := fmt.Sprintf(":%d", cfg.HTTPAPIPort)

	ch := make(chan bool, 1)
	go func(ch chan<- bool) {
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			e.Logger.Fatal("shutting down the server")
		}

		ch <- true
	}(ch)

	<-ctx.Done()
	if err := e.Shutdown(context.Background()); err != nil {
		e.Logger.Fatal(err)
	}
	<-ch
}

func setEchoLogLevel(e *echo.Echo, level string) {
	switch level {
	case "info":
		e.Logger.SetLevel(log.INFO)
	case "debug":
		e.Logger.SetLevel(log.DEBUG)
	case "warning":
		e.Logger.SetLevel(log.WARN)
	case "error":
		e.Logger.SetLevel(log.ERROR)
	}
}
