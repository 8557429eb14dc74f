// Copyright 2025 The LaylaOS Authors
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

// Command laylaosd is the kernel core's demo boot entrypoint: it reads
// kernel parameters, mounts a memdev-backed demo root filesystem, starts
// the scheduler loop, and exposes a Prometheus metrics endpoint. It never
// executes real user programs (spec §1 scopes process execution out); its
// one "task" is a placeholder the scheduler loop cycles to demonstrate the
// substrate end to end, the same role gcsfuse's own daemonized mount serves
// for exercising the FUSE plumbing.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/laylaos/kernelcore/internal/kconfig"
)

var (
	cfgFile       string
	bindErr       error
	configFileErr error
	unmarshalErr  error
	bootConfig    kconfig.Config
)

var rootCmd = &cobra.Command{
	Use:   "laylaosd",
	Short: "Boot the LaylaOS execution-substrate demo kernel",
	Long: `laylaosd wires the page cache, VFS, memory-region, task scheduler
and signal-dispatch packages together against an in-memory demo block
device, and runs the scheduler loop until interrupted.`,
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
		return runBoot(cmd.Context(), bootConfig)
	},
}

func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to a YAML config file overriding flag defaults.")
	bindErr = kconfig.BindFlags(rootCmd.PersistentFlags())
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		viper.SetConfigType("yaml")
		if err := viper.ReadInConfig(); err != nil {
			configFileErr = fmt.Errorf("reading config file: %w", err)
			return
		}
	}
	bootConfig, unmarshalErr = kconfig.Load()
}
