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
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/laylaos/kernelcore/clock"
	"github.com/laylaos/kernelcore/driver"
	"github.com/laylaos/kernelcore/internal/kconfig"
	"github.com/laylaos/kernelcore/internal/klog"
	"github.com/laylaos/kernelcore/internal/kmetrics"
	"github.com/laylaos/kernelcore/ipc/shm"
	"github.com/laylaos/kernelcore/memdev"
	"github.com/laylaos/kernelcore/mm"
	"github.com/laylaos/kernelcore/pcache"
	ksyscall "github.com/laylaos/kernelcore/syscall"
	"github.com/laylaos/kernelcore/task"
	"github.com/laylaos/kernelcore/vfs"
	"github.com/laylaos/kernelcore/vfs/fsops"
)

// demoDevice and demoBlocks size the memdev harness the demo root mounts on.
// A real boot would read these from the boot_fstab entry; the demo has
// exactly one entry and no reason to vary them.
const (
	demoDevice    = 1
	demoBlocks    = 4096
	demoBlockSize = memdev.BlockSize
)

func runBoot(ctx context.Context, cfg kconfig.Config) error {
	if err := klog.Init(klog.Config{Format: cfg.Log.Format, FilePath: cfg.Log.FilePath, Severity: mustSeverity(cfg.Log.Severity)}); err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	defer klog.Close()
	klog.Infof("laylaosd booting, config=%+v", cfg)

	metrics, metricsShutdown, err := buildMetrics(cfg)
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}
	defer metricsShutdown(ctx)

	entries, err := loadBootMounts(cfg)
	if err != nil {
		return fmt.Errorf("loading boot fstab: %w", err)
	}

	dev, fsRegistry, devices, err := buildDemoDevice()
	if err != nil {
		return fmt.Errorf("formatting demo device: %w", err)
	}
	defer dev.Close()

	cacheCfg := pcache.DefaultConfig()
	cacheCfg.EvictAfter = time.Duration(cfg.PageCache.StaleAfterSeconds) * time.Second
	cache := pcache.New(devices, clock.RealClock{}, cacheCfg, kmetrics.PageCacheSink{Handle: metrics})
	flusher := pcache.NewFlusher(cache, nodeLookupStub{}, time.Duration(cfg.PageCache.SweepIntervalSeconds)*time.Second)
	go flusher.Run(ctx)
	defer flusher.Stop()

	vfsServer, root, err := mountRoot(ctx, fsRegistry, cache, devices)
	if err != nil {
		return fmt.Errorf("mounting demo root: %w", err)
	}

	shmReg := shm.New(clock.RealClock{})
	sched := task.NewScheduler()
	kernel := ksyscall.NewKernel(vfsServer, driver.NewRegistry(), sched, shmReg)

	vm := mm.NewAddressSpace(cache, mm.DefaultConfig())
	init := kernel.Spawn(task.Identity{PID: 1, TGID: 1, PGID: 1, SID: 1}, vm, root, root)
	kernel.Init = init
	klog.Infof("spawned init task pid=%d", init.Identity.PID)

	if len(entries) > 0 {
		klog.Infof("boot fstab declares %d mount(s); demo boot honors only the implicit root mount", len(entries))
	}

	debugLn, err := serveDebugSocket(ctx, cfg.DebugSocketPath, kernel, root)
	if err != nil {
		return fmt.Errorf("starting debug socket: %w", err)
	}
	defer debugLn.Close()

	stop := runSchedulerLoop(ctx, sched, metrics, time.Duration(cfg.Scheduler.QuantumMillis)*time.Millisecond)
	defer stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-ctx.Done():
	case <-sigCh:
		klog.Infof("laylaosd received shutdown signal")
	}
	return nil
}

func mustSeverity(s string) klog.Severity {
	sev, err := klog.ParseSeverity(s)
	if err != nil {
		return klog.SeverityInfo
	}
	return sev
}

func buildMetrics(cfg kconfig.Config) (kmetrics.MetricHandle, kmetrics.ShutdownFn, error) {
	if !cfg.Metrics.Enabled {
		return kmetrics.NewNoopMetrics(), func(context.Context) error { return nil }, nil
	}
	handle, err := kmetrics.NewOTelMetrics()
	if err != nil {
		return nil, nil, err
	}
	ln, err := net.Listen("tcp", cfg.Metrics.Address)
	if err != nil {
		return nil, nil, fmt.Errorf("listening for metrics on %s: %w", cfg.Metrics.Address, err)
	}
	mux := http.NewServeMux()
	if exposable, ok := handle.(kmetrics.HTTPExposable); ok {
		mux.Handle("/metrics", exposable.Handler())
	}
	server := &http.Server{Handler: mux}
	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			klog.Errorf("metrics server stopped: %v", err)
		}
	}()
	return handle, kmetrics.JoinShutdownFn(
		func(ctx context.Context) error { return server.Shutdown(ctx) },
		handle.Close,
	), nil
}

func loadBootMounts(cfg kconfig.Config) ([]kconfig.BootFstabEntry, error) {
	if _, err := os.Stat(cfg.BootFstabPath); err != nil {
		klog.Debugf("no boot fstab at %s, using implicit demo root only", cfg.BootFstabPath)
		return nil, nil
	}
	return kconfig.LoadBootFstab(cfg.BootFstabPath)
}

func buildDemoDevice() (*memdev.Device, *fsops.Registry, *deviceTable, error) {
	dev, err := memdev.NewDevice(demoBlocks * demoBlockSize)
	if err != nil {
		return nil, nil, nil, err
	}
	registry := fsops.NewRegistry()
	registry.Register(memdev.FSName, memdev.Constructor(dev, demoBlocks))

	devices := newDeviceTable()
	devices.add(demoDevice, deviceEntry{drv: dev, blockSize: demoBlockSize, writable: true})
	return dev, registry, devices, nil
}

func mountRoot(ctx context.Context, registry *fsops.Registry, cache *pcache.Cache, devices *deviceTable) (*vfs.Server, *vfs.Inode, error) {
	ctor, ok := registry.Lookup(memdev.FSName)
	if !ok {
		return nil, nil, fmt.Errorf("filesystem type %q not registered", memdev.FSName)
	}
	ops, err := ctor(ctx, demoDevice, "")
	if err != nil {
		return nil, nil, err
	}

	rootNode, err := ops.ReadSuper(ctx)
	if err != nil {
		return nil, nil, err
	}

	inodes := vfs.NewInodeTable()
	mounts := vfs.NewMountTable()
	mnt := &vfs.Mount{Device: demoDevice, Ops: ops, ReadOnly: false}

	root, err := inodes.GetNode(ctx, mnt, rootNode.InodeNum, devices)
	if err != nil {
		return nil, nil, err
	}
	mnt.Root = root

	server := &vfs.Server{Inodes: inodes, Mounts: mounts, Cache: cache, Devices: devices}
	return server, root, nil
}

// nodeLookupStub satisfies pcache.NodeLookup for the demo. The flusher hands
// it to FlushCachedPages to resolve dirty file-backed entries; it resolves
// nothing, so the flusher skips those entries rather than writing them back.
type nodeLookupStub struct{}

func (nodeLookupStub) Lookup(device uint64, inodeNum uint64) (pcache.FileBacking, bool) {
	return nil, false
}
