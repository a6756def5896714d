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

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/fs123/gofs123/internal/clock"
	"github.com/fs123/gofs123/internal/config"
	"github.com/fs123/gofs123/internal/fs"
	"github.com/fs123/gofs123/internal/logger"
	"github.com/fs123/gofs123/internal/reqrep"
)

const (
	fsName      = "fs123fs"
	defaultMode = 0o444
	defaultDir  = 0o555
)

// Mount assembles the backend pipeline, the internal/fs.FileSystem, mounts
// it at mountPoint, and blocks until it is unmounted (via SIGINT or a
// kernel-initiated unmount), mirroring the teacher's mountWithStorageHandle
// plus legacy_main.go's signal-handler/Join flow.
func Mount(ctx context.Context, mountPoint string, cfg *config.Config) error {
	if err := initLogging(cfg); err != nil {
		return fmt.Errorf("initLogging: %w", err)
	}

	clk := clock.RealClock{}
	log := logger.New("gofs123")

	p, err := buildPipeline(cfg, clk, log)
	if err != nil {
		return fmt.Errorf("buildPipeline: %w", err)
	}

	notifier := fuse.NewNotifier()

	fsys := fs.New(fs.Options{
		Backend: p.top,
		ReqDefaults: reqrep.Defaults{
			StaleIfError:             int64(cfg.StaleIfErrorDefault.Seconds()),
			PastStaleWhileRevalidate: 0,
		},
		ProtocolMinor:        cfg.ProtocolMinor,
		ChunkSizeBytes:       cfg.ChunkSizeBytes,
		IgnoreEstaleMismatch: cfg.IgnoreEstaleMismatch,
		Uid:                  uint32(os.Getuid()),
		Gid:                  uint32(os.Getgid()),
		FileMode:             defaultMode,
		DirMode:              defaultDir,
		Clock:                clk,
		Log:                  log,
		Stats:                p.stats,
		Specials:             p.specials,
		Invalidator:          newNotifierInvalidator(notifier),
	})
	go fsys.Run()
	defer fsys.Stop()

	stopPeer, err := listenPeerServer(p, logger.New("peerserver"))
	if err != nil {
		return fmt.Errorf("listenPeerServer: %w", err)
	}
	defer stopPeer()

	maintCtx, cancelMaint := context.WithCancel(ctx)
	defer cancelMaint()
	supervisor := startMaintenance(p, cfg, logger.New("maintenance"))
	go func() {
		if merr := supervisor.Run(maintCtx); merr != nil && merr != context.Canceled {
			log.Warnf("maintenance supervisor stopped: %v", merr)
		}
	}()

	server := fuseutil.NewFileSystemServer(fsys)

	mountCfg := &fuse.MountConfig{
		FSName:               fsName,
		Subtype:              "fs123",
		VolumeName:           fsName,
		Options:              map[string]string{},
		EnableParallelDirOps: true,
		// The file system is read-only end to end (spec.md §1 Non-goals),
		// so there is never dirty kernel writeback state to preserve.
		DisableWritebackCaching: true,
	}
	if cfg.Logging.Severity != config.OFF {
		mountCfg.ErrorLogger = logger.NewStdLogger("fuse: ", logger.LevelError)
	}
	if cfg.Logging.Severity == config.TRACE || cfg.Logging.Severity == config.DEBUG {
		mountCfg.DebugLogger = logger.NewStdLogger("fuse_debug: ", logger.LevelTrace)
	}

	log.Infof("mounting %s at %s", fsName, mountPoint)
	mfs, err := fuse.Mount(mountPoint, server, mountCfg)
	if err != nil {
		return fmt.Errorf("fuse.Mount: %w", err)
	}

	registerSIGINTHandler(mfs.Dir(), log)

	return mfs.Join(context.Background())
}

// registerSIGINTHandler unmounts mountPoint on SIGINT, retrying until it
// succeeds, mirroring the teacher's cmd/legacy_main.go.
func registerSIGINTHandler(mountPoint string, log *logger.Logger) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt)

	go func() {
		for range signalChan {
			log.Infof("received SIGINT, attempting to unmount %s", mountPoint)
			if err := fuse.Unmount(mountPoint); err != nil {
				log.Errorf("failed to unmount in response to SIGINT: %v", err)
				continue
			}
			log.Infof("successfully unmounted in response to SIGINT")
			return
		}
	}()
}

func initLogging(cfg *config.Config) error {
	logger.SetLogFormat(cfg.Logging.Format)
	logger.SetLogLevel(cfg.Logging.Severity)
	if cfg.Logging.FilePath == "" {
		return nil
	}
	return logger.InitLogFile(cfg.Logging.FilePath, cfg.Logging.Format, cfg.Logging.Severity, logger.RotateConfig{
		MaxFileSizeMB:   cfg.Logging.MaxFileSizeMB,
		BackupFileCount: cfg.Logging.BackupFileCount,
		Compress:        cfg.Logging.Compress,
	})
}
