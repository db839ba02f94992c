package reporting

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FileWriter places export files under <Dir>/<session id>/.
type FileWriter struct {
	Dir string
}

// Path returns where an export file lives.
func (fw FileWriter) Path(sessionID, exportID, format string) string {
	return filepath.Join(fw.Dir, sessionID, exportID+"."+format)
}

// Write renders into a temp file and renames it into place, so readers never
// see a partial export.
func (fw FileWriter) Write(sessionID, exportID, format string, render func(io.Writer) error) (string, int64, error) {
	dir := filepath.Join(fw.Dir, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create reports dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, exportID+".*.tmp")
	if err != nil {
		return "", 0, err
	}
	defer os.Remove(tmp.Name())

	if err := render(tmp); err != nil {
		tmp.Close()
		return "", 0, err
	}
	if err := tmp.Close(); err != nil {
		return "", 0, err
	}
	info, err := os.Stat(tmp.Name())
	if err != nil {
		return "", 0, err
	}
	dst := fw.Path(sessionID, exportID, format)
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", 0, err
	}
	return dst, info.Size(), nil
}
