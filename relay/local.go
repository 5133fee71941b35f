package relay

import (
	"os"

	"github.com/bmatcuk/doublestar/v4"

	"pontoon/config"
	"pontoon/errors"
)

// localDisk serves file operations directly from the agent's filesystem for
// clients that do not expose their own file access.
type localDisk struct {
	access config.FilesystemAccess
}

// isPathRestricted reports whether path matches any of the glob patterns.
func isPathRestricted(path string, patterns []string) (bool, error) {
	for _, pattern := range patterns {
		match, err := doublestar.PathMatch(pattern, path)
		if err != nil {
			return false, errors.New("invalid glob pattern '%s': %v", pattern, err)
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

func (d *localDisk) checkReadable(path string) error {
	hidden, err := isPathRestricted(path, d.access.Hidden)
	if err != nil {
		return err
	}
	if hidden {
		return errors.NewKind(errors.KindPermissionDenied, "access denied: path '%s' is hidden", path)
	}
	return nil
}

func (d *localDisk) checkWritable(path string) error {
	if err := d.checkReadable(path); err != nil {
		return err
	}
	readOnly, err := isPathRestricted(path, d.access.ReadOnly)
	if err != nil {
		return err
	}
	if readOnly {
		return errors.NewKind(errors.KindPermissionDenied, "access denied: path '%s' is read-only", path)
	}
	return nil
}

func (d *localDisk) readFile(path string) (string, error) {
	if err := d.checkReadable(path); err != nil {
		return "", err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.NewKind(errors.KindNotFound, "file '%s' does not exist", path)
		}
		return "", errors.Wrapf(err, "failed to read file '%s'", path)
	}
	return string(content), nil
}

// writeFile replaces the file's content. The parent directory must already
// exist.
func (d *localDisk) writeFile(path, content string) error {
	if err := d.checkWritable(path); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		if os.IsNotExist(err) {
			return errors.NewKind(errors.KindNotFound, "cannot write '%s': parent directory does not exist", path)
		}
		return errors.Wrapf(err, "failed to write to file '%s'", path)
	}
	return nil
}
