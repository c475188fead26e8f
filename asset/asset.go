// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package asset reads shaders, meshes and textures from a directory, a
// packr box or a memory mapped kar archive.
package asset

import (
	"io/ioutil"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/devblok/vkplayground/utility/kar"
	"github.com/gobuffalo/packd"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/mmap"
)

// ErrNotFound is returned for a name the source does not have.
var ErrNotFound = errors.New("asset not found")

// Source is a read only set of named assets. Names use forward slashes.
type Source interface {
	ReadFile(name string) ([]byte, error)
	Close() error
}

// Open returns an archive source for paths ending in .kar and a
// directory source otherwise.
func Open(p string) (Source, error) {
	if strings.EqualFold(filepath.Ext(p), ".kar") {
		return OpenArchive(p)
	}
	info, err := os.Stat(p)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.Errorf("asset path %s is neither a directory nor a .kar archive", p)
	}
	return Dir(p), nil
}

// Dir reads assets from a directory.
type Dir string

// Path returns where the asset is on disk.
func (d Dir) Path(name string) string {
	return filepath.Join(string(d), filepath.FromSlash(name))
}

// ReadFile reads the asset from disk.
func (d Dir) ReadFile(name string) ([]byte, error) {
	data, err := ioutil.ReadFile(d.Path(name))
	if os.IsNotExist(err) {
		return nil, errors.Wrap(ErrNotFound, name)
	}
	return data, err
}

// Close does nothing.
func (d Dir) Close() error {
	return nil
}

// Box reads assets from a packd finder such as a packr box.
type Box struct {
	packd.Finder
}

// ReadFile finds the asset in the box.
func (b Box) ReadFile(name string) ([]byte, error) {
	data, err := b.Find(path.Clean(name))
	if err != nil {
		return nil, errors.Wrap(ErrNotFound, name)
	}
	return data, nil
}

// Close does nothing.
func (b Box) Close() error {
	return nil
}

// OpenArchive memory maps a kar archive.
func OpenArchive(p string) (*Archive, error) {
	r, err := mmap.Open(p)
	if err != nil {
		return nil, err
	}
	ar, err := kar.Open(r)
	if err != nil {
		r.Close()
		return nil, errors.Wrap(err, p)
	}
	log.WithFields(log.Fields{
		"path":   p,
		"files":  len(ar.Files()),
		"author": ar.Header().Author,
	}).Debug("asset archive mapped")
	return &Archive{
		mapping: r,
		archive: ar,
	}, nil
}

// Archive reads assets from a memory mapped kar archive. It is safe for
// concurrent use.
type Archive struct {
	mapping *mmap.ReaderAt
	archive *kar.Archive
}

// ReadFile decompresses the asset.
func (a *Archive) ReadFile(name string) ([]byte, error) {
	data, err := a.archive.ReadAll(path.Clean(name))
	if errors.Cause(err) == kar.ErrNotFound {
		return nil, errors.Wrap(ErrNotFound, name)
	}
	return data, err
}

// Files returns the names of the archived assets.
func (a *Archive) Files() []string {
	return a.archive.Files()
}

// Close unmaps the archive.
func (a *Archive) Close() error {
	return a.mapping.Close()
}
