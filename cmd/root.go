// Copyright 2025 Google LLC
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

// Package cmd is the CLI entry point: flag/config-file binding (mirroring
// the teacher's cmd/root.go cobra+viper wiring), backend pipeline
// assembly, and the mount/signal/Join lifecycle (cmd/mount.go,
// cmd/legacy_main.go).
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fs123/gofs123/internal/config"
)

var (
	cfgFile       string
	bindErr       error
	configFileErr error
	unmarshalErr  error

	// MountConfig is populated by viper from flags and, if --config-file
	// was given, a YAML overlay, following the teacher's package-level
	// MountConfig var (cmd/root.go).
	MountConfig config.Config
)

var rootCmd = &cobra.Command{
	Use:   "fs123fs [flags] mount_point",
	Short: "Mount an fs123 HTTP content server as a read-only local file system",
	Long: `gofs123 mounts a remote fs123 protocol server (one or more fallback base
URLs) as a read-only FUSE file system, with an on-disk content-addressed
cache and an optional distributed peer cache between the kernel and the
network.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		if configFileErr != nil {
			return configFileErr
		}
		if unmarshalErr != nil {
			return unmarshalErr
		}
		if err := validateConfig(&MountConfig); err != nil {
			return err
		}

		mountPoint, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("canonicalizing mount point: %w", err)
		}

		return Mount(cmd.Context(), mountPoint, &MountConfig)
	},
}

func validateConfig(cfg *config.Config) error {
	if len(cfg.BaseURLs) == 0 {
		return fmt.Errorf("at least one --base-urls entry is required")
	}
	if cfg.Retry.Timeout < 0 {
		return fmt.Errorf("retry.timeout must be non-negative")
	}
	return nil
}

// Execute runs the root command, exiting the process on failure, mirroring
// the teacher's cmd.Execute.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to a YAML config file overlaying the flags below")
	bindErr = config.BindFlags(rootCmd.PersistentFlags())
	unmarshalErr = viper.BindPFlags(rootCmd.PersistentFlags())
}

func initConfig() {
	MountConfig = config.Default()

	if cfgFile == "" {
		unmarshalErr = viper.Unmarshal(&MountConfig)
		return
	}

	resolved, err := filepath.Abs(cfgFile)
	if err != nil {
		configFileErr = fmt.Errorf("resolving config file path: %w", err)
		return
	}
	viper.SetConfigFile(resolved)
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		configFileErr = fmt.Errorf("reading config file: %w", err)
		return
	}
	unmarshalErr = viper.Unmarshal(&MountConfig)
}
