/*
Copyright © 2022 - 2025 SUSE LLC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rancher-sandbox/tpm2-resmgr/pkg/accessbroker"
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/audit"
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/config"
	rmError "github.com/rancher-sandbox/tpm2-resmgr/pkg/error"
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/frontend"
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/queue"
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/quota"
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/resmgr"
	"github.com/rancher-sandbox/tpm2-resmgr/pkg/sink"
	v1 "github.com/rancher-sandbox/tpm2-resmgr/pkg/types/v1"
)

func NewServeCmd(root *cobra.Command) *cobra.Command {
	c := &cobra.Command{
		Use:   "serve",
		Args:  cobra.ExactArgs(0),
		Short: "Run the resource manager daemon",
		RunE:  runServe,
	}
	root.AddCommand(c)

	c.Flags().String("device", "/dev/tpmrm0", "TPM character device to broker access to")
	c.Flags().Bool("simulator", false, "Talk to a software TPM simulator instead of a device")
	c.Flags().String("sim-command-address", "127.0.0.1:2321", "Simulator command socket address")
	c.Flags().String("sim-platform-address", "127.0.0.1:2322", "Simulator platform socket address")
	c.Flags().String("socket", "/run/resmgrd.sock", "Unix domain socket clients connect to")
	c.Flags().Int("transient-cap", quota.DefaultTransientCap, "Per-connection live transient object cap")
	c.Flags().Int("session-cap", quota.DefaultSessionCap, "Per-connection live session cap")
	c.Flags().String("audit-db", "", "Path to an optional bbolt audit log (disabled if empty)")

	for _, f := range []string{"device", "simulator", "sim-command-address", "sim-platform-address", "socket", "transient-cap", "session-cap", "audit-db"} {
		_ = viper.BindPFlag(f, c.Flags().Lookup(f))
	}

	return c
}

var _ = NewServeCmd(rootCmd)

func runServe(cmd *cobra.Command, args []string) error {
	logger := v1.NewLogger()
	if viper.GetBool("debug") {
		logger.SetLevel(v1.DebugLevel())
	}

	broker, closeBroker, err := openBroker(logger)
	if err != nil {
		return rmError.NewFromError(err, rmError.OpenAccessBroker)
	}
	defer closeBroker()

	quotaCfg := quota.Config{
		TransientCap: viper.GetInt("transient-cap"),
		SessionCap:   viper.GetInt("session-cap"),
	}

	cfg := config.NewConfig(
		config.WithLogger(logger),
		config.WithAccessBroker(broker),
		config.WithQuota(quotaCfg),
		config.WithAuditDB(viper.GetString("audit-db")),
	)
	if cfg == nil {
		return rmError.New("invalid daemon configuration", rmError.ReadingConfig)
	}

	dispatcher := resmgr.NewDispatcher(cfg.AccessBroker, cfg.Sessions, cfg.Quota, cfg.Logger, cfg.FlushedCommands)
	if cfg.AuditDBPath != "" {
		auditLog, err := audit.Open(cfg.AuditDBPath)
		if err != nil {
			return rmError.NewFromError(err, rmError.OpenAuditDB)
		}
		defer auditLog.Close()
		dispatcher = dispatcher.WithAudit(auditLog)
	}
	engine := resmgr.NewEngine(cfg.Queue, cfg.Sink, dispatcher, cfg.Quota, cfg.Logger)

	front, err := frontend.Listen(viper.GetString("socket"), cfg.Queue, cfg.Logger)
	if err != nil {
		return rmError.NewFromError(err, rmError.OpenAccessBroker)
	}
	defer front.Close()

	ch, ok := cfg.Sink.(*sink.Channel)
	if !ok {
		return rmError.New("configured sink does not support the Unix socket front-end", rmError.ReadingConfig)
	}
	go front.RunSink(ch)
	go func() {
		if err := front.Serve(); err != nil {
			logger.Errorf("resmgrd: front-end listener stopped: %s", err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		logger.Info("resmgrd: shutting down")
		cfg.Queue.Enqueue(&queue.Message{Kind: queue.KindControl, Control: queue.CheckCancel})
	}()

	logger.Infof("resmgrd: listening on %s", viper.GetString("socket"))
	engine.Run()
	return nil
}

// openBroker opens the real AccessBroker, either against a TPM device or a
// simulator, and returns a cleanup func closing the underlying transport.
func openBroker(logger v1.Logger) (*accessbroker.Real, func(), error) {
	if viper.GetBool("simulator") {
		t, err := accessbroker.OpenSimulator(viper.GetString("sim-command-address"), viper.GetString("sim-platform-address"))
		if err != nil {
			return nil, func() {}, err
		}
		return accessbroker.NewReal(t, logger), func() { _ = t.Close() }, nil
	}

	t, err := accessbroker.OpenDevice(viper.GetString("device"))
	if err != nil {
		return nil, func() {}, err
	}
	return accessbroker.NewReal(t, logger), func() { _ = t.Close() }, nil
}
