//go:build unix

package platform

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

type filePortLock struct {
	file *os.File
}

// acquirePortLock flocks <runtime dir>/<app>/rigctld-<port>.lock and
// records the holder pid in it.
func acquirePortLock(app string, port int) (PortLock, error) {
	dir, err := portLockDir(app)
	if err != nil {
		return nil, err
	}
	lockPath := filepath.Join(dir, portLockName(port)+".lock")

	// #nosec G304 -- lockPath is built from process-owned runtime/temp directories.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open port lock file: %w", err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		holder := readHolderPID(file)
		_ = file.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EAGAIN) {
			return nil, &PortLockedError{Port: port, HolderPID: holder}
		}
		return nil, fmt.Errorf("flock port lock: %w", err)
	}

	if err := file.Truncate(0); err == nil {
		_, _ = file.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}

	return &filePortLock{file: file}, nil
}

func (l *filePortLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}

	_ = l.file.Truncate(0)
	unlockErr := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil

	if unlockErr != nil && !errors.Is(unlockErr, syscall.EBADF) {
		return fmt.Errorf("unlock port lock: %w", unlockErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close port lock file: %w", closeErr)
	}

	return nil
}

// portLockDir prefers XDG_RUNTIME_DIR and falls back to a per-uid temp dir.
func portLockDir(app string) (string, error) {
	dir := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR"))
	if dir != "" {
		dir = filepath.Join(dir, app)
	} else {
		dir = filepath.Join(os.TempDir(), app+"-"+strconv.Itoa(os.Getuid()))
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create port lock dir: %w", err)
	}

	return dir, nil
}

func readHolderPID(file *os.File) int {
	raw, err := io.ReadAll(io.NewSectionReader(file, 0, 32))
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 0 {
		return 0
	}

	return pid
}
