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

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/laylaos/kernelcore/internal/kdebug"
)

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "List tasks known to the running kernel",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := send(kdebug.CommandPS)
		if err != nil {
			return err
		}
		fmt.Printf("%-8s %-8s %-8s %-10s\n", "PID", "PGID", "SID", "STATE")
		for _, t := range resp.Tasks {
			fmt.Printf("%-8d %-8d %-8d %-10s\n", t.PID, t.PGID, t.SID, t.State)
		}
		return nil
	},
}

var mountCmd = &cobra.Command{
	Use:   "mount",
	Short: "List mounted filesystems",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := send(kdebug.CommandMount)
		if err != nil {
			return err
		}
		fmt.Printf("%-8s %-16s %-10s\n", "DEVICE", "FSTYPE", "MODE")
		for _, m := range resp.Mounts {
			mode := "rw"
			if m.ReadOnly {
				mode = "ro"
			}
			fmt.Printf("%-8d %-16s %-10s\n", m.Device, m.FsType, mode)
		}
		return nil
	},
}

var statfsCmd = &cobra.Command{
	Use:   "statfs",
	Short: "Print the demo root filesystem's block/inode counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := send(kdebug.CommandStatfs)
		if err != nil {
			return err
		}
		if resp.Statfs == nil {
			return fmt.Errorf("laylaosd returned no statfs data")
		}
		sf := resp.Statfs
		fmt.Printf("block_size:       %d\n", sf.BlockSize)
		fmt.Printf("total_blocks:     %d\n", sf.TotalBlocks)
		fmt.Printf("free_blocks:      %d\n", sf.FreeBlocks)
		fmt.Printf("total_inodes:     %d\n", sf.TotalInodes)
		fmt.Printf("free_inodes:      %d\n", sf.FreeInodes)
		fmt.Printf("max_filename_len: %d\n", sf.MaxFilenameLen)
		return nil
	},
}
