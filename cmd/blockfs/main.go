// Command blockfs manages blockfs disk images: formatting, creating
// fixed-size files, moving data in and out, and inspecting the volume.
package main

import (
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/tchajed/goose/machine/disk"
	"github.com/urfave/cli/v2"

	"github.com/example/blockfs/pkg/device"
	"github.com/example/blockfs/pkg/fsys"
)

func main() {
	app := &cli.App{
		Name:  "blockfs",
		Usage: "manage a blockfs disk image",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "image",
				Aliases:  []string{"i"},
				Usage:    "path to the disk image",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "enable debug logging",
			},
		},
		Before: func(ctx *cli.Context) error {
			if ctx.Bool("verbose") {
				log.SetLevel(log.DebugLevel)
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "mkfs",
				Usage:     "format a disk image",
				ArgsUsage: " ",
				Flags: []cli.Flag{
					&cli.Uint64Flag{
						Name:  "sectors",
						Usage: "image size in sectors",
						Value: 1024,
					},
					&cli.IntFlag{
						Name:  "root-entries",
						Usage: "root directory capacity",
						Value: fsys.DefaultRootEntries,
					},
				},
				Action: cmdMkfs,
			},
			{
				Name:   "ls",
				Usage:  "list files",
				Action: withVolume(cmdLs),
			},
			{
				Name:      "create",
				Usage:     "create an empty file of a fixed size",
				ArgsUsage: "NAME LENGTH",
				Action:    withVolume(cmdCreate),
			},
			{
				Name:      "put",
				Usage:     "copy a local file into the volume",
				ArgsUsage: "LOCAL NAME",
				Action:    withVolume(cmdPut),
			},
			{
				Name:      "get",
				Usage:     "copy a file out of the volume to stdout",
				ArgsUsage: "NAME",
				Action:    withVolume(cmdGet),
			},
			{
				Name:      "rm",
				Usage:     "remove a file",
				ArgsUsage: "NAME",
				Action:    withVolume(cmdRm),
			},
			{
				Name:      "stat",
				Usage:     "show a file's inode sector and length",
				ArgsUsage: "NAME",
				Action:    withVolume(cmdStat),
			},
			{
				Name:   "df",
				Usage:  "show free space",
				Action: withVolume(cmdDf),
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// openDevice opens an existing image, deriving the sector count from
// its size.
func openDevice(path string) (*device.GooseDisk, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("opening image %s: %w", path, err)
	}
	sectors := uint64(fi.Size()) / disk.BlockSize
	if sectors == 0 {
		return nil, fmt.Errorf("image %s is smaller than one sector", path)
	}
	d, err := disk.NewFileDisk(path, sectors)
	if err != nil {
		return nil, fmt.Errorf("opening image %s: %w", path, err)
	}
	return device.NewGooseDisk(d), nil
}

func cmdMkfs(ctx *cli.Context) error {
	path := ctx.String("image")
	d, err := disk.NewFileDisk(path, ctx.Uint64("sectors"))
	if err != nil {
		return fmt.Errorf("creating image %s: %w", path, err)
	}
	dev := device.NewGooseDisk(d)
	defer dev.Close()

	if err := fsys.Format(dev, fsys.Options{RootEntries: ctx.Int("root-entries")}); err != nil {
		return err
	}
	dev.Barrier()
	return nil
}

// withVolume mounts the image around an action and unmounts afterwards.
func withVolume(action func(*cli.Context, *fsys.FileSystem) error) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		dev, err := openDevice(ctx.String("image"))
		if err != nil {
			return err
		}
		defer dev.Close()

		vol, err := fsys.Mount(dev)
		if err != nil {
			return err
		}
		defer func() {
			vol.Unmount()
			dev.Barrier()
		}()

		return action(ctx, vol)
	}
}

func cmdLs(ctx *cli.Context, vol *fsys.FileSystem) error {
	for _, name := range vol.List() {
		_, length, err := vol.Stat(name)
		if err != nil {
			return err
		}
		fmt.Printf("%10d  %s\n", length, name)
	}
	return nil
}

func cmdCreate(ctx *cli.Context, vol *fsys.FileSystem) error {
	if ctx.NArg() != 2 {
		return fmt.Errorf("usage: create NAME LENGTH")
	}
	name := ctx.Args().Get(0)
	var length int32
	if _, err := fmt.Sscanf(ctx.Args().Get(1), "%d", &length); err != nil {
		return fmt.Errorf("parsing length %q: %w", ctx.Args().Get(1), err)
	}
	return vol.Create(name, length)
}

func cmdPut(ctx *cli.Context, vol *fsys.FileSystem) error {
	if ctx.NArg() != 2 {
		return fmt.Errorf("usage: put LOCAL NAME")
	}
	local, name := ctx.Args().Get(0), ctx.Args().Get(1)

	data, err := os.ReadFile(local)
	if err != nil {
		return fmt.Errorf("reading %s: %w", local, err)
	}
	if err := vol.Create(name, int32(len(data))); err != nil {
		return err
	}

	f, err := vol.OpenFile(name)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("writing %q: %w", name, err)
	}
	return nil
}

func cmdGet(ctx *cli.Context, vol *fsys.FileSystem) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("usage: get NAME")
	}
	f, err := vol.OpenFile(ctx.Args().Get(0))
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(os.Stdout, f); err != nil {
		return fmt.Errorf("copying out: %w", err)
	}
	return nil
}

func cmdRm(ctx *cli.Context, vol *fsys.FileSystem) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("usage: rm NAME")
	}
	return vol.Remove(ctx.Args().Get(0))
}

func cmdStat(ctx *cli.Context, vol *fsys.FileSystem) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("usage: stat NAME")
	}
	name := ctx.Args().Get(0)
	sector, length, err := vol.Stat(name)
	if err != nil {
		return err
	}
	fmt.Printf("%s: inode sector %d, %d bytes\n", name, sector, length)
	return nil
}

func cmdDf(ctx *cli.Context, vol *fsys.FileSystem) error {
	fmt.Printf("%d sectors free\n", vol.FreeSectors())
	return nil
}
