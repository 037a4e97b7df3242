// Command blockfs-fuse mounts a blockfs disk image through FUSE.
package main

import (
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"
	"github.com/tchajed/goose/machine/disk"
	"gopkg.in/yaml.v2"

	"github.com/example/blockfs/pkg/device"
	"github.com/example/blockfs/pkg/fsys"
	blockfuse "github.com/example/blockfs/pkg/fuse"
)

// Config holds the daemon's settings. Values come from an optional
// YAML file, with environment variables taking precedence.
type Config struct {
	Image      string `envconfig:"BLOCKFS_IMAGE" yaml:"image"`
	MountPoint string `envconfig:"BLOCKFS_MOUNT_POINT" yaml:"mountPoint"`
	ReadOnly   bool   `envconfig:"BLOCKFS_READ_ONLY" yaml:"readOnly"`
	AllowOther bool   `envconfig:"BLOCKFS_ALLOW_OTHER" yaml:"allowOther"`
	Debug      bool   `envconfig:"BLOCKFS_DEBUG" yaml:"debug"`
}

func loadConfig() (Config, error) {
	var c Config
	if path := os.Getenv("BLOCKFS_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return c, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &c); err != nil {
			return c, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	if err := envconfig.Process("BLOCKFS", &c); err != nil {
		return c, fmt.Errorf("processing environment: %w", err)
	}
	if c.Image == "" {
		return c, fmt.Errorf("no image configured; set BLOCKFS_IMAGE")
	}
	if c.MountPoint == "" {
		return c, fmt.Errorf("no mount point configured; set BLOCKFS_MOUNT_POINT")
	}
	return c, nil
}

func run(c Config) error {
	fi, err := os.Stat(c.Image)
	if err != nil {
		return fmt.Errorf("opening image %s: %w", c.Image, err)
	}
	d, err := disk.NewFileDisk(c.Image, uint64(fi.Size())/disk.BlockSize)
	if err != nil {
		return fmt.Errorf("opening image %s: %w", c.Image, err)
	}
	dev := device.NewGooseDisk(d)
	defer dev.Close()

	vol, err := fsys.Mount(dev)
	if err != nil {
		return err
	}
	defer func() {
		vol.Unmount()
		dev.Barrier()
	}()

	return blockfuse.Mount(vol, blockfuse.MountOptions{
		MountPoint: c.MountPoint,
		ReadOnly:   c.ReadOnly,
		AllowOther: c.AllowOther,
		Debug:      c.Debug,
	})
}

func main() {
	c, err := loadConfig()
	if err != nil {
		log.Fatal(err)
	}
	if c.Debug {
		log.SetLevel(log.DebugLevel)
	}
	if err := run(c); err != nil {
		log.Fatal(err)
	}
}
