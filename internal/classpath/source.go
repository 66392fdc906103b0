package classpath

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// jmod files carry a 4-byte header ahead of an ordinary zip archive.
var jmodMagic = []byte{'J', 'M', 0x01, 0x00}

// source is one opened classpath entry.
type source interface {
	// read returns the bytes of entry (e.g. "com/foo/Bar.class"), or
	// fs.ErrNotExist.
	read(entry string) ([]byte, error)
	close() error
	String() string
}

func openSource(location string) (source, error) {
	info, err := os.Stat(location)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return dirSource{root: location}, nil
	}

	switch strings.ToLower(filepath.Ext(location)) {
	case ".jar", ".zip":
		zr, err := zip.OpenReader(location)
		if err != nil {
			return nil, fmt.Errorf("open archive %s: %w", location, err)
		}
		return newArchiveSource(location, &zr.Reader, zr, ""), nil
	case ".jmod":
		data, err := os.ReadFile(location)
		if err != nil {
			return nil, err
		}
		if !bytes.HasPrefix(data, jmodMagic) {
			return nil, fmt.Errorf("open jmod %s: bad header", location)
		}
		body := data[len(jmodMagic):]
		zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
		if err != nil {
			return nil, fmt.Errorf("open jmod %s: %w", location, err)
		}
		return newArchiveSource(location, zr, nil, "classes/"), nil
	default:
		return nil, fmt.Errorf("unsupported classpath entry %s", location)
	}
}

type dirSource struct {
	root string
}

func (d dirSource) read(entry string) ([]byte, error) {
	return os.ReadFile(filepath.Join(d.root, filepath.FromSlash(entry)))
}

func (d dirSource) close() error   { return nil }
func (d dirSource) String() string { return d.root }

type archiveSource struct {
	path   string
	files  map[string]*zip.File
	closer io.Closer
	prefix string
}

func newArchiveSource(path string, zr *zip.Reader, closer io.Closer, prefix string) *archiveSource {
	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		if name, ok := strings.CutPrefix(f.Name, prefix); ok {
			files[name] = f
		}
	}
	return &archiveSource{path: path, files: files, closer: closer, prefix: prefix}
}

func (a *archiveSource) read(entry string) ([]byte, error) {
	f, ok := a.files[entry]
	if !ok {
		return nil, fs.ErrNotExist
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (a *archiveSource) close() error {
	if a.closer == nil {
		return nil
	}
	err := a.closer.Close()
	a.closer = nil
	if errors.Is(err, fs.ErrClosed) {
		return nil
	}
	return err
}

func (a *archiveSource) String() string { return a.path }
