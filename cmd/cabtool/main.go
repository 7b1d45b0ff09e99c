// Copyright 2019 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command cabtool lists, extracts, and creates Microsoft Cabinet files
// using the cabfile package. It validates nothing beyond what the
// library itself already validates.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/google/go-cabfile/cabfile"
)

const usageText = `cabtool <command> [flags] <args>

Commands:
  ls    <cabinet>             list the files in a cabinet
  cat   <cabinet> <files...>  print file contents to stdout
  create <output> <files...>  build a cabinet from files on disk
`

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usageText)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "ls":
		err = runLs(os.Args[2:])
	case "cat":
		err = runCat(os.Args[2:])
	case "create":
		err = runCreate(os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usageText)
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func usage(fset *flag.FlagSet, helpText string) func() {
	return func() {
		fmt.Fprintln(os.Stderr, helpText)
		fmt.Fprintf(os.Stderr, "Flags for cabtool %s:\n", fset.Name())
		fset.PrintDefaults()
	}
}

func runLs(args []string) error {
	fset := flag.NewFlagSet("ls", flag.ExitOnError)
	long := fset.Bool("l", false, "list in long format (attributes, compression, size, date)")
	fset.Usage = usage(fset, "cabtool ls [-l] <cabinet>")
	fset.Parse(args)
	if fset.NArg() != 1 {
		fset.Usage()
		os.Exit(2)
	}

	f, err := os.Open(fset.Arg(0))
	if err != nil {
		return err
	}
	defer f.Close()
	cab, err := cabfile.New(f)
	if err != nil {
		return err
	}

	for idx, folder := range cab.FolderEntries() {
		for _, file := range folder.Files() {
			if !*long {
				fmt.Println(file.Name)
				continue
			}
			fmt.Printf("%s %2d %-7s %10d %s %s\n",
				attrString(file.Attributes), idx, folder.Compression().Type,
				file.Size, dateString(file), file.Name)
		}
	}
	return nil
}

func attrString(attrs uint16) string {
	bit := func(mask uint16, c byte) byte {
		if attrs&mask != 0 {
			return c
		}
		return '-'
	}
	return string([]byte{
		bit(cabfile.AttrReadOnly, 'R'),
		bit(cabfile.AttrHidden, 'H'),
		bit(cabfile.AttrSystem, 'S'),
		bit(cabfile.AttrArchive, 'A'),
		bit(cabfile.AttrExec, 'E'),
		bit(cabfile.AttrNameIsUTF, 'U'),
	})
}

func dateString(file cabfile.FileMeta) string {
	if !file.HasModTime {
		return "invalid datetime"
	}
	return file.ModTime.Format("2006-01-02 15:04:05")
}

func runCat(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: cabtool cat <cabinet> <files...>")
	}
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()
	cab, err := cabfile.New(f)
	if err != nil {
		return err
	}
	for _, name := range args[1:] {
		r, err := cab.ReadFile(name)
		if err != nil {
			return err
		}
		_, err = io.Copy(os.Stdout, r)
		r.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func runCreate(args []string) error {
	fset := flag.NewFlagSet("create", flag.ExitOnError)
	compress := fset.String("compress", "mszip", "compression to use: none or mszip")
	fset.Usage = usage(fset, "cabtool create [-compress=none|mszip] <output> <files...>")
	fset.Parse(args)
	if fset.NArg() < 2 {
		fset.Usage()
		os.Exit(2)
	}

	var spec cabfile.CompressionSpec
	switch *compress {
	case "none":
		spec = cabfile.CompressionSpec{Type: cabfile.CompressionNone}
	case "mszip":
		spec = cabfile.CompressionSpec{Type: cabfile.CompressionMSZIP}
	default:
		return fmt.Errorf("invalid -compress value %q: must be none or mszip", *compress)
	}

	output, paths := fset.Arg(0), fset.Args()[1:]

	b := cabfile.NewCabinetBuilder()
	folder := b.AddFolder(spec)
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		folder.AddFile(path).SetModTime(info.ModTime())
	}

	out, err := os.Create(output)
	if err != nil {
		return err
	}
	defer out.Close()

	cw, err := b.Build(out)
	if err != nil {
		return err
	}
	for _, path := range paths {
		fw, err := cw.NextFile()
		if err != nil {
			return err
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		_, copyErr := io.Copy(fw, in)
		in.Close()
		if copyErr != nil {
			return copyErr
		}
		if err := fw.Close(); err != nil {
			return err
		}
	}
	_, err = cw.Finish()
	return err
}
