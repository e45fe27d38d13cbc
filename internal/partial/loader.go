// Package partial resolves and caches partial templates referenced by
// {% render %} / {% include %}, mirroring the teacher's ModuleLoader
// (search-path based lookup, name-keyed cache) but built for single-file
// source reads rather than compiled modules.
package partial

import (
	"fmt"
	"os"
	"path/filepath"
)

// Loader exposes the one operation the compiler needs from a partial
// source: read(name) -> source | error. Errors are treated as "partial
// unavailable" and never surface to the caller of Compile.
type Loader interface {
	Read(name string) (string, error)
}

// FileSystemLoader resolves partial names against an ordered search path,
// the way ModuleLoader resolves module names against searchPath.
type FileSystemLoader struct {
	searchPath []string
	ext        string
}

// NewFileSystemLoader builds a loader searching dirs in order, appending
// ext (default ".liquid") to bare partial names.
func NewFileSystemLoader(dirs []string, ext string) *FileSystemLoader {
	if ext == "" {
		ext = ".liquid"
	}
	return &FileSystemLoader{searchPath: append([]string(nil), dirs...), ext: ext}
}

// Read implements Loader.
func (l *FileSystemLoader) Read(name string) (string, error) {
	filename := name
	if filepath.Ext(filename) == "" {
		filename += l.ext
	}
	for _, dir := range l.searchPath {
		path := filepath.Join(dir, filename)
		data, err := os.ReadFile(path)
		if err == nil {
			return string(data), nil
		}
	}
	return "", fmt.Errorf("partial: %q not found in search path %v", name, l.searchPath)
}
