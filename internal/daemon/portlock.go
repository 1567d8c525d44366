package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	derrors "git.home.luguber.info/inful/stratus/internal/errors"
)

// portLockName is the file clients read to find the daemon's HTTP port.
const portLockName = "port.lock"

// WritePortLock records the bound port in the data directory, atomically.
func WritePortLock(dataDir string, port int) error {
	path := filepath.Join(dataDir, portLockName)
	tmp, err := os.CreateTemp(dataDir, ".port-*")
	if err != nil {
		return derrors.StorageUnavailable(err).WithContext("path", path)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(strconv.Itoa(port) + "\n"); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return derrors.StorageUnavailable(err).WithContext("path", path)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return derrors.StorageUnavailable(err).WithContext("path", path)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return derrors.StorageUnavailable(err).WithContext("path", path)
	}
	return nil
}

// ReadPortLock returns the recorded port, or 0 when no daemon is registered.
func ReadPortLock(dataDir string) int {
	data, err := os.ReadFile(filepath.Join(dataDir, portLockName))
	if err != nil {
		return 0
	}
	port, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || port <= 0 || port > 65535 {
		return 0
	}
	return port
}

// RemovePortLock deletes the lock file. Missing files are fine.
func RemovePortLock(dataDir string) {
	_ = os.Remove(filepath.Join(dataDir, portLockName))
}
