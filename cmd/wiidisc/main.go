package main

import (
	"crypto/rand"
	"fmt"
	"io"
	"log"
	"os"
	"path"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"

	"github.com/wiidisc/wiidisc"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var fs = afero.NewOsFs()

func init() {
	cli.VersionFlag = &cli.BoolFlag{
		Name:    "version",
		Aliases: []string{"V"},
		Usage:   "print the version",
	}
}

func loadCommonKey(keyFile string) ([16]byte, error) {
	var key [16]byte
	b, err := afero.ReadFile(fs, keyFile)
	if err != nil {
		return key, err
	}
	if len(b) != 16 {
		return key, fmt.Errorf("%s: common key must be 16 bytes", keyFile)
	}
	copy(key[:], b)
	return key, nil
}

func openPartition(file, keyFile, section string) (*wiidisc.PartitionReader, error) {
	kind, ok := wiidisc.ParsePartitionKind(section)
	if !ok {
		return nil, fmt.Errorf("unknown partition section %q", section)
	}

	// rc stays open: the returned PartitionReader reads through it for the
	// rest of the command.
	rc, err := wiidisc.OpenDiscReader(file)
	if err != nil {
		return nil, err
	}

	disc, err := wiidisc.ParseDisc(rc)
	if err != nil {
		return nil, err
	}

	key, err := loadCommonKey(keyFile)
	if err != nil {
		return nil, err
	}

	return disc.OpenPartition(kind, key)
}

func sections(file string) error {
	rc, err := wiidisc.OpenDiscReader(file)
	if err != nil {
		return err
	}
	defer rc.Close()

	disc, err := wiidisc.ParseDisc(rc)
	if err != nil {
		return err
	}

	for _, p := range disc.Partitions() {
		fmt.Printf("%s: 0x%x\n", p.Kind(), p.Offset())
	}
	return nil
}

func printFiles(file, keyFile, section string) error {
	part, err := openPartition(file, keyFile, section)
	if err != nil {
		return err
	}

	root, err := part.Fst()
	if err != nil {
		return err
	}

	root.Walk(func(p string, n *wiidisc.FstNode) {
		if p == "" || n.IsDir {
			return
		}
		fmt.Printf("%s\t%d\n", p, n.Length)
	})
	return nil
}

func extractSys(file, keyFile, section, directory string) error {
	part, err := openPartition(file, keyFile, section)
	if err != nil {
		return err
	}

	if err := fs.MkdirAll(path.Join(directory, "sys"), 0o755); err != nil {
		return err
	}
	if err := fs.MkdirAll(path.Join(directory, "files"), 0o755); err != nil {
		return err
	}

	disc, err := part.ReadDiscHeader()
	if err != nil {
		return err
	}
	if err := wiidisc.WriteDiscHeaderFile(fs, path.Join(directory, "sys", "boot.bin"), &disc); err != nil {
		return err
	}

	bi2 := make([]byte, 0x2000)
	if _, err := part.Stream().Seek(0x440, io.SeekStart); err != nil {
		return err
	}
	if _, err := io.ReadFull(part.Stream(), bi2); err != nil {
		return err
	}
	if err := afero.WriteFile(fs, path.Join(directory, "sys", "bi2.bin"), bi2, 0o644); err != nil {
		return err
	}

	apploader, err := part.ReadApploader()
	if err != nil {
		return err
	}
	if err := afero.WriteFile(fs, path.Join(directory, "sys", "apploader.img"), apploader, 0o644); err != nil {
		return err
	}

	dol, err := part.ReadDOL()
	if err != nil {
		return err
	}
	if err := afero.WriteFile(fs, path.Join(directory, "sys", "main.dol"), dol, 0o644); err != nil {
		return err
	}

	fstRaw, err := part.ReadFST()
	if err != nil {
		return err
	}
	if err := afero.WriteFile(fs, path.Join(directory, "sys", "fst.bin"), fstRaw, 0o644); err != nil {
		return err
	}

	root, err := wiidisc.ParseFST(fstRaw)
	if err != nil {
		return err
	}

	var files []*wiidisc.FstNode
	root.Walk(func(_ string, n *wiidisc.FstNode) {
		if !n.IsDir {
			files = append(files, n)
		}
	})

	bar := progressbar.Default(int64(len(files)), "extracting files")
	stream := part.Stream()
	root.Walk(func(p string, n *wiidisc.FstNode) {
		if p == "" || n.IsDir {
			return
		}
		dest := path.Join(directory, "files", p)
		if err := fs.MkdirAll(path.Dir(dest), 0o755); err != nil {
			log.Printf("mkdir %s: %v", dest, err)
			return
		}
		if _, err := stream.Seek(int64(n.Offset), 0); err != nil {
			log.Printf("seek %s: %v", p, err)
			return
		}
		w, err := fs.Create(dest)
		if err != nil {
			log.Printf("create %s: %v", dest, err)
			return
		}
		defer w.Close()
		buf := make([]byte, n.Length)
		if _, err := stream.Read(buf); err != nil {
			log.Printf("read %s: %v", p, err)
		}
		w.Write(buf)
		bar.Add(1)
	})

	return nil
}

func rebuild(srcDir, destFile, keyFile string) error {
	boot, err := afero.ReadFile(fs, path.Join(srcDir, "sys", "boot.bin"))
	if err != nil {
		return err
	}
	header, err := wiidisc.ReadDiscHeaderBytes(boot)
	if err != nil {
		return err
	}

	commonKey, err := loadCommonKey(keyFile)
	if err != nil {
		return err
	}
	var plainKey [16]byte
	if _, err := rand.Read(plainKey[:]); err != nil {
		return err
	}

	b, err := wiidisc.CreateDisc(fs, destFile, header)
	if err != nil {
		return err
	}

	def := wiidisc.NewDirPartitionBuilder(fs, srcDir)

	var ticket wiidisc.Ticket
	var certs [3]wiidisc.Certificate
	var tmd wiidisc.TMD

	var bar *progressbar.ProgressBar
	progress := func(done, total int) {
		if bar == nil {
			bar = progressbar.Default(int64(total), "building partition")
		}
		bar.Set(done)
	}

	if err := b.AddPartition(wiidisc.PartitionData, wiidisc.DefaultPartitionOffset, ticket, commonKey, plainKey, certs, tmd, def, progress); err != nil {
		return err
	}
	if bar != nil {
		bar.Finish()
	}

	return b.Finish(wiidisc.DefaultRegion())
}

func main() {
	app := cli.NewApp()
	app.Name = "wiidisc"
	app.Usage = "Wii disc image utility"
	app.Version = fmt.Sprintf("%s, commit %s, built at %s", version, commit, date)

	app.Commands = []*cli.Command{
		{
			Name:      "sections",
			Usage:     "List the partitions on a disc image",
			ArgsUsage: "FILE",
			Action: func(c *cli.Context) error {
				if c.NArg() < 1 {
					cli.ShowCommandHelpAndExit(c, c.Command.Name, 1)
				}
				return sections(c.Args().First())
			},
		},
		{
			Name:      "print-files",
			Usage:     "List every file in a partition",
			ArgsUsage: "FILE KEYFILE",
			Action: func(c *cli.Context) error {
				if c.NArg() < 2 {
					cli.ShowCommandHelpAndExit(c, c.Command.Name, 1)
				}
				return printFiles(c.Args().Get(0), c.Args().Get(1), c.String("section"))
			},
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "section", Value: "DATA", Usage: "partition kind: DATA, UPDATE or CHANNEL"},
			},
		},
		{
			Name:      "extract-sys",
			Usage:     "Extract a partition's system files and data files to a directory",
			ArgsUsage: "FILE KEYFILE DIRECTORY",
			Action: func(c *cli.Context) error {
				if c.NArg() < 3 {
					cli.ShowCommandHelpAndExit(c, c.Command.Name, 1)
				}
				return extractSys(c.Args().Get(0), c.Args().Get(1), c.String("section"), c.Args().Get(2))
			},
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "section", Value: "DATA", Usage: "partition kind: DATA, UPDATE or CHANNEL"},
			},
		},
		{
			Name:      "rebuild",
			Usage:     "Rebuild a disc image from a previously extracted directory",
			ArgsUsage: "SRCDIR DESTFILE KEYFILE",
			Action: func(c *cli.Context) error {
				if c.NArg() < 3 {
					cli.ShowCommandHelpAndExit(c, c.Command.Name, 1)
				}
				return rebuild(c.Args().Get(0), c.Args().Get(1), c.Args().Get(2))
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
