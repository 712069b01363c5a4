package pipeline

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// publishDir returns the directory the outputs of st are copied to.
func (p *Pipeline) publishDir(st *Stage) string {
	if st.Publish == "." {
		return p.outDir
	}

	return filepath.Join(p.outDir, st.Publish)
}

// publish copies files into the publish directory of st, keeping their base
// names and overwriting what is already there.
func (p *Pipeline) publish(st *Stage, files []string) ([]string, error) {
	dir := p.publishDir(st)
	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return nil, &PublishError{Stage: st.Name, Path: dir, Dest: dir, Err: err}
	}

	published := make([]string, 0, len(files))
	for _, src := range files {
		dest := filepath.Join(dir, filepath.Base(src))
		err := copyFile(src, dest)
		if err != nil {
			return published, &PublishError{Stage: st.Name, Path: src, Dest: dest, Err: err}
		}
		published = append(published, dest)
	}

	return published, nil
}

// copyFile writes src to a temporary file next to dest and renames it over
// dest.
func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrap(err, "unable to open source")
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return errors.Wrap(err, "unable to stat source")
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*")
	if err != nil {
		return errors.Wrap(err, "unable to create destination")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck

	_, err = io.Copy(tmp, in)
	if err != nil {
		tmp.Close()
		return errors.Wrap(err, "unable to copy")
	}
	err = tmp.Close()
	if err != nil {
		return errors.Wrap(err, "unable to close destination")
	}
	err = os.Chmod(tmpName, info.Mode().Perm())
	if err != nil {
		return errors.Wrap(err, "unable to set destination mode")
	}

	return errors.Wrap(os.Rename(tmpName, dest), "unable to move destination in place")
}
