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

// Command nslogger-viewer runs a standalone viewer: it accepts client
// connections, decodes their records and prints them to stdout.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"

	"github.com/nslogger-project/nslogger/pkg/config"
	"github.com/nslogger-project/nslogger/pkg/discovery"
	"github.com/nslogger-project/nslogger/pkg/discovery/multicastbeacon"
	"github.com/nslogger-project/nslogger/pkg/logutil"
	"github.com/nslogger-project/nslogger/pkg/metrics"
	"github.com/nslogger-project/nslogger/pkg/record"
	"github.com/nslogger-project/nslogger/pkg/viewer"
)

func main() {
	var (
		configPath  string
		listenAddr  string
		metricsAddr string
		logFile     string
	)

	root := &cobra.Command{
		Use:   "nslogger-viewer",
		Short: "Accept NSLogger client connections and print decoded records",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogger(logFile)

			cfg := config.NewViewerConfig()
			if configPath != "" {
				loaded, err := config.LoadViewerConfigTOML(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			if metricsAddr != "" {
				cfg.MetricsAddr = metricsAddr
			}
			return run(cfg, listenAddr)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to a viewer TOML config file")
	root.Flags().StringVar(&listenAddr, "listen", ":0", "address to accept client connections on")
	root.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve /metrics on (empty disables)")
	root.Flags().StringVar(&logFile, "log-file", "", "rotate structured logs to this file instead of stderr")

	if err := root.Execute(); err != nil {
		logutil.Errorf("nslogger-viewer: %v", err)
		os.Exit(1)
	}
}

// setupLogger wires a real zap logger in before anything else runs, so
// the warnings scattered through pkg/client/pkg/viewer's state machines
// are actually observable instead of vanishing into the package default
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

func run(cfg *config.ViewerConfig, listenAddr string) error {
	// nslogger-viewer is a long-running daemon; GOMAXPROCS must reflect
	// the container's cgroup quota, not the host's full core count.
	if undo, err := maxprocs.Set(maxprocs.Logger(logutil.Infof)); err != nil {
		logutil.Warnf("nslogger-viewer: automaxprocs: %v", err)
	} else {
		defer undo()
	}

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logutil.Warnf("nslogger-viewer: metrics already registered: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logutil.Errorf("nslogger-viewer: metrics server failed: %v", err)
			}
		}()
		go func() {
			<-ctx.Done()
			_ = srv.Close()
		}()
	}

	var publisher discovery.Publisher
	if cfg.PublishesBonjourService {
		publisher = multicastbeacon.New()
	}

	l := viewer.NewListener(cfg, &stdoutConsumer{}, publisher)
	logutil.Infof("nslogger-viewer: listening on %s", listenAddr)
	return l.Serve(ctx, listenAddr)
}

// stdoutConsumer is the default viewer.Consumer for the standalone CLI:
// it just prints every record as it arrives.
type stdoutConsumer struct{}

var _ viewer.Consumer = (*stdoutConsumer)(nil)

func (c *stdoutConsumer) DidReceiveMessages(session *viewer.ConnectionSession, records []*record.LogRecord) {
	identity := session.Identity()
	for _, r := range records {
		fmt.Printf("[%s] seq=%d %s %s: %s\n", identity.ClientName, r.Sequence, r.Type, r.Tag, describe(r))
	}
}

func (c *stdoutConsumer) RemoteDisconnected(session *viewer.ConnectionSession, err error) {
	if err != nil {
		logutil.Warnf("nslogger-viewer: session %s disconnected: %v", session.ID(), err)
		return
	}
	logutil.Infof("nslogger-viewer: session %s disconnected", session.ID())
}

func describe(r *record.LogRecord) string {
	switch r.Payload.Kind {
	case record.PayloadText:
		return r.Payload.Text
	case record.PayloadBinary:
		return fmt.Sprintf("<%d bytes>", len(r.Payload.Bytes))
	case record.PayloadImage:
		return fmt.Sprintf("<image %dx%d, %d bytes>", r.Payload.Width, r.Payload.Height, len(r.Payload.Bytes))
	default:
		return ""
	}
}
