package tracking

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/YuminosukeSato/tabflow/pkg/errors"
)

// ArtifactRepository stores run artifacts on the local filesystem under
// <root>/<experiment-id>/<run-id>/artifacts/.
type ArtifactRepository struct {
	root string
}

// NewArtifactRepository returns a repository rooted at root.
func NewArtifactRepository(root string) *ArtifactRepository {
	return &ArtifactRepository{root: root}
}

// ExperimentLocation returns the directory holding an experiment's runs.
func (r *ArtifactRepository) ExperimentLocation(experimentID string) string {
	return filepath.Join(r.root, experimentID)
}

// RunURI returns the artifact directory of a run.
func (r *ArtifactRepository) RunURI(experimentID, runID string) string {
	return filepath.Join(r.root, experimentID, runID, "artifacts")
}

// Write stores the bytes produced by write at relPath under uri. The file is
// written to a temporary name and renamed, so readers never see a partial artifact.
func (r *ArtifactRepository) Write(uri, relPath string, write func(w io.Writer) error) (err error) {
	path, err := resolve(uri, relPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "create artifact dir for %s", relPath)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrapf(err, "create artifact %s", relPath)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()
	if err := write(tmp); err != nil {
		return errors.Wrapf(err, "write artifact %s", relPath)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "close artifact %s", relPath)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrapf(err, "commit artifact %s", relPath)
	}
	return nil
}

// Open opens the artifact at relPath under uri. A missing artifact keeps
// fs.ErrNotExist in its chain.
func (r *ArtifactRepository) Open(uri, relPath string) (io.ReadCloser, error) {
	path, err := resolve(uri, relPath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open artifact %s", relPath)
	}
	return f, nil
}

// List returns the slash-separated relative paths of all artifacts under uri.
func (r *ArtifactRepository) List(uri string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(uri, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(uri, path)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "list artifacts in %s", uri)
	}
	sort.Strings(paths)
	return paths, nil
}

func resolve(uri, relPath string) (string, error) {
	rel := filepath.FromSlash(relPath)
	if !filepath.IsLocal(rel) {
		return "", errors.NewValidationError("artifact path", "must be relative and stay inside the run", relPath)
	}
	return filepath.Join(uri, rel), nil
}
