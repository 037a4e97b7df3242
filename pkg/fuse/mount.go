package fuse

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	log "github.com/sirupsen/logrus"

	"github.com/example/blockfs/pkg/fsys"
)

// MountOptions configures Mount.
type MountOptions struct {
	MountPoint string
	ReadOnly   bool
	AllowOther bool
	Debug      bool
}

// Mount serves vol at the mount point until SIGINT or SIGTERM, then
// unmounts. It does not unmount the volume itself; the caller owns it.
func Mount(vol *fsys.FileSystem, options MountOptions) error {
	mountOpts := []fuse.MountOption{
		fuse.FSName("blockfs"),
		fuse.Subtype("blockfs"),
	}
	if options.ReadOnly {
		mountOpts = append(mountOpts, fuse.ReadOnly())
	}
	if options.AllowOther {
		mountOpts = append(mountOpts, fuse.AllowOther())
	}
	if options.Debug {
		fuse.Debug = func(msg interface{}) {
			log.Debugf("fuse: %v", msg)
		}
	}

	log.WithField("mountpoint", options.MountPoint).Info("mounting")
	c, err := fuse.Mount(options.MountPoint, mountOpts...)
	if err != nil {
		return fmt.Errorf("mounting %s: %w", options.MountPoint, err)
	}
	defer c.Close()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- fs.Serve(c, NewFS(vol))
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serving %s: %w", options.MountPoint, err)
		}
	case s := <-sig:
		log.WithField("signal", s).Info("unmounting")
		if err := Unmount(options.MountPoint); err != nil {
			log.WithError(err).Warn("unmount failed; retry manually")
		}
		<-serveErr
	}
	return nil
}

// Unmount unmounts the filesystem at the given mount point.
func Unmount(mountPoint string) error {
	return fuse.Unmount(mountPoint)
}
