// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sage-x-project/p2pchat/chat"
	"github.com/sage-x-project/p2pchat/config"
	"github.com/sage-x-project/p2pchat/internal/logger"
)

var (
	startPort   uint16
	startName   string
	configFile  string
	metricsFlag bool
	metricsPort int
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the chat peer (discover peers and listen for messages)",
	RunE: func(cmd *cobra.Command, args []string) error {
		config.LoadDotEnv()

		cfg := config.Default()
		if configFile != "" {
			loaded, err := config.LoadFromFile(configFile)
			if err != nil {
				return err
			}
			cfg = loaded
		}

		if cmd.Flags().Changed("port") {
			cfg.Port = startPort
		}
		if cmd.Flags().Changed("name") {
			cfg.Name = startName
		}
		if metricsFlag {
			cfg.Metrics.Enabled = true
		}
		if cmd.Flags().Changed("metrics-port") {
			cfg.Metrics.Port = metricsPort
		}

		// P2PCHAT_LOG_LEVEL, when set, takes precedence over the
		// configured level.
		level := cfg.Logging.Level
		if envLevel := os.Getenv("P2PCHAT_LOG_LEVEL"); envLevel != "" {
			level = envLevel
		}
		logger.GetDefaultLogger().SetLevel(logger.ParseLevel(level))

		peer, err := chat.New(cfg)
		if err != nil {
			return err
		}

		// Ctrl-C takes the same path as /quit: broadcast the exit
		// notice, flush, then cancel every loop.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigCh
			peer.Shutdown()
		}()

		return peer.Start(context.Background())
	},
}

func init() {
	startCmd.Flags().Uint16VarP(&startPort, "port", "p", 9999, "Port to listen on for TCP connections")
	startCmd.Flags().StringVarP(&startName, "name", "n", "Anonymous", "Your display name")
	startCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to a YAML config file")
	startCmd.Flags().BoolVar(&metricsFlag, "metrics", false, "Serve Prometheus metrics and health checks")
	startCmd.Flags().IntVar(&metricsPort, "metrics-port", 9464, "Metrics HTTP port")

	rootCmd.AddCommand(startCmd)
}
