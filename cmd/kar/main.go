// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/devblok/vkplayground/utility/kar"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/mmap"
)

func init() {
	currentUserName = "unknown"
	if u, err := user.Current(); err == nil && u.Name != "" {
		currentUserName = u.Name
	}
}

var (
	currentUserName string
	author          = flag.String("author", "", "Set the author of the package when compressing, the current user by default")
	version         = flag.Int64("version", 1, "Archive version number to create it with")
	extract         = flag.String("e", "", "Extract the file given")
	compress        = flag.String("c", "", "Compress the given file/folder")
	list            = flag.String("l", "", "List the contents of the file given")
	dstFile         = flag.String("f", "out.kar", "Destination file")
	dstDir          = flag.String("o", ".", "Destination directory when extracting")
	silent          = flag.Bool("s", false, "Silent")
)

func main() {
	flag.Parse()
	if *silent {
		log.SetLevel(log.WarnLevel)
	}

	var ops int
	for _, op := range []string{*extract, *compress, *list} {
		if op != "" {
			ops++
		}
	}
	if ops > 1 {
		log.Fatal("only one operation at a time")
	}

	var err error
	switch {
	case *compress != "":
		err = compressFiles(*compress, *dstFile)
	case *extract != "":
		err = extractFiles(*extract, *dstDir)
	case *list != "":
		err = listFiles(*list)
	default:
		flag.PrintDefaults()
		return
	}
	if err != nil {
		log.Fatal(err)
	}
}

func compressFiles(src, dstPath string) error {
	if _, err := os.Stat(dstPath); err == nil {
		return errors.New("destination file exists, will not overwrite")
	}

	var filesToCompress []string
	if err := filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		filesToCompress = append(filesToCompress, path)
		return nil
	}); err != nil {
		return err
	}

	name := *author
	if name == "" {
		name = currentUserName
	}
	karBuilder, err := kar.NewBuilder(kar.Header{
		Author:      name,
		DateCreated: time.Now().Unix(),
		Version:     *version,
	})
	if err != nil {
		return err
	}
	defer karBuilder.Close()

	for _, ftc := range filesToCompress {
		rel, err := filepath.Rel(src, ftc)
		if err != nil || rel == "." {
			rel = filepath.Base(ftc)
		}
		if err := addFile(karBuilder, filepath.ToSlash(rel), ftc); err != nil {
			return err
		}
		log.WithField("file", rel).Debug("added")
	}

	dst, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	n, err := karBuilder.WriteTo(dst)
	if err != nil {
		dst.Close()
		os.Remove(dstPath)
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"archive": dstPath,
		"files":   karBuilder.Len(),
		"bytes":   n,
	}).Info("archive written")
	return nil
}

func addFile(b *kar.Builder, name, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return b.Add(name, f)
}

func openArchive(path string) (*mmap.ReaderAt, *kar.Archive, error) {
	mapping, err := mmap.Open(path)
	if err != nil {
		return nil, nil, err
	}
	archive, err := kar.Open(mapping)
	if err != nil {
		mapping.Close()
		return nil, nil, errors.Wrap(err, path)
	}
	return mapping, archive, nil
}

func extractFiles(src, dst string) error {
	mapping, archive, err := openArchive(src)
	if err != nil {
		return err
	}
	defer mapping.Close()

	root := filepath.Clean(dst)
	for _, name := range archive.Files() {
		target := filepath.Join(root, filepath.FromSlash(name))
		if target != root && !strings.HasPrefix(target, root+string(filepath.Separator)) {
			return errors.Errorf("%s escapes the destination directory", name)
		}
		if err := extractFile(archive, name, target); err != nil {
			return errors.Wrap(err, name)
		}
		log.WithField("file", target).Debug("extracted")
	}

	log.WithFields(log.Fields{
		"archive": src,
		"files":   len(archive.Files()),
	}).Info("archive extracted")
	return nil
}

func extractFile(archive *kar.Archive, name, target string) error {
	r, err := archive.Open(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	f, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func listFiles(src string) error {
	mapping, archive, err := openArchive(src)
	if err != nil {
		return err
	}
	defer mapping.Close()

	h := archive.Header()
	fmt.Printf("author: %s\ncreated: %s\nversion: %d\n", h.Author, time.Unix(h.DateCreated, 0).Format(time.RFC3339), h.Version)
	for _, name := range archive.Files() {
		entry, err := archive.Stat(name)
		if err != nil {
			return err
		}
		fmt.Printf("%10d %10d %s\n", entry.Size, entry.CompressedSize, name)
	}
	return nil
}
