package artifacts

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"lakedeploy/internal/common"
	"lakedeploy/pkg/errors"
)

// File is one artifact file
type File struct {
	// RelPath is slash-separated and relative to the artifact directory it was listed from
	RelPath string
	Path    string
}

// Read returns the file content
func (f File) Read() ([]byte, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeFileOperation, "failed to read artifact").WithContext("path", f.RelPath)
	}
	return data, nil
}

// Name returns the file name without its extension
func (f File) Name() string {
	base := filepath.Base(f.Path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// SampleFiles lists every file under the data directory
func (s *Source) SampleFiles() ([]File, error) {
	return s.list(s.layout.DataDir, nil)
}

// Reports lists the .pbix files under the reports directory
func (s *Source) Reports() ([]File, error) {
	return s.list(s.layout.ReportsDir, func(rel string) bool {
		return strings.EqualFold(filepath.Ext(rel), ".pbix")
	})
}

// EnvironmentLibraries lists wheels, jars and the conda environment.yml under the environment directory
func (s *Source) EnvironmentLibraries() ([]File, error) {
	return s.list(s.layout.EnvironmentDir, func(rel string) bool {
		switch strings.ToLower(filepath.Ext(rel)) {
		case ".whl", ".jar":
			return true
		case ".yml", ".yaml":
			return strings.EqualFold(strings.TrimSuffix(filepath.Base(rel), filepath.Ext(rel)), "environment")
		}
		return false
	})
}

// AgentDefinition lists the definition parts of the data agent; RelPath is the part path
func (s *Source) AgentDefinition() ([]File, error) {
	return s.list(s.layout.AgentDir, func(rel string) bool {
		return !strings.HasPrefix(filepath.Base(rel), ".")
	})
}

// list walks dir (relative to the source root) and returns matching files sorted by
// RelPath. A missing directory yields no files.
func (s *Source) list(dir string, match func(rel string) bool) ([]File, error) {
	if dir == "" {
		return nil, nil
	}
	base, err := s.resolve(dir)
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(base); err != nil || !info.IsDir() {
		return nil, nil
	}

	var files []File
	err = filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != base && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if match == nil || match(rel) {
			files = append(files, File{RelPath: rel, Path: path})
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeFileOperation, "failed to list artifacts").WithContext("dir", dir)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	return files, nil
}

func (s *Source) resolve(dir string) (string, error) {
	path, err := common.ValidatePath(filepath.Join(s.root, filepath.FromSlash(dir)), s.root)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid artifact directory").WithContext("dir", dir)
	}
	return path, nil
}
