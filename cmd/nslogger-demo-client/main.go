// Copyright 2021 Matrix Origin
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

// Command nslogger-demo-client connects to a viewer and streams a
// synthetic log workload, for exercising and demonstrating the client
// ingest API and transmit worker end to end.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nslogger-project/nslogger/pkg/client"
	"github.com/nslogger-project/nslogger/pkg/config"
	"github.com/nslogger-project/nslogger/pkg/logutil"
	"github.com/nslogger-project/nslogger/pkg/record"
)

func main() {
	var (
		host     string
		port     int
		name     string
		interval time.Duration
		logFile  string
	)

	root := &cobra.Command{
		Use:   "nslogger-demo-client",
		Short: "Stream a synthetic log workload to an NSLogger viewer",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogger(logFile)

			cfg := config.NewClientConfig()
			cfg.Host = host
			cfg.Port = port
			cfg.BrowseBonjour = false
			cfg.ClientName = name
			cfg.ClientVersion = "1.0"
			return run(cfg, interval)
		},
	}
	root.Flags().StringVar(&host, "host", "127.0.0.1", "viewer host to connect to")
	root.Flags().IntVar(&port, "port", 50000, "viewer port to connect to")
	root.Flags().StringVar(&name, "name", "nslogger-demo-client", "client name reported in CLIENT_INFO")
	root.Flags().DurationVar(&interval, "interval", time.Second, "delay between synthetic log lines")
	root.Flags().StringVar(&logFile, "log-file", "", "rotate structured logs to this file instead of stderr")

	if err := root.Execute(); err != nil {
		logutil.Errorf("nslogger-demo-client: %v", err)
		os.Exit(1)
	}
}

// setupLogger wires a real zap logger in before anything else runs, so
// the warnings emitted by the transmit worker's state machine are
// actually observable instead of vanishing into the package default
// zap.NewNop().
func setupLogger(logFile string) {
	if logFile != "" {
		logutil.SetLogger(logutil.NewRotatingLogger(logFile, 100, 3, 28))
		return
	}
	l, err := zap.NewProduction()
	if err != nil {
		return
	}
	logutil.SetLogger(l)
}

func run(cfg *config.ClientConfig, interval time.Duration) error {
	logger, err := client.New(cfg)
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	i := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			logger.LogBlockStart(fmt.Sprintf("iteration %d", i))
			logger.Log("demo", record.LevelInfo, "demo", fmt.Sprintf("tick %d", i))
			logger.LogBlockEnd()
			if i%10 == 0 {
				logger.LogMark(fmt.Sprintf("checkpoint %d", i))
			}
			i++
		}
	}
}
