//go:build unix

package platform

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestAcquirePortLockContentionAndRelease(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())

	first, err := AcquirePortLock("riglink", 4532)
	if err != nil {
		t.Fatalf("acquire first lock: %v", err)
	}

	second, err := AcquirePortLock("riglink", 4532)
	var locked *PortLockedError
	if !errors.As(err, &locked) || !errors.Is(err, ErrPortLocked) {
		t.Fatalf("expected port locked error, got %v", err)
	}
	if second != nil {
		t.Fatalf("expected no lock on contention, got %#v", second)
	}
	if locked.Port != 4532 || locked.HolderPID != os.Getpid() {
		t.Fatalf("unexpected holder %+v", locked)
	}

	other, err := AcquirePortLock("riglink", 4533)
	if err != nil {
		t.Fatalf("locks on different ports must not contend: %v", err)
	}
	_ = other.Release()

	if err := first.Release(); err != nil {
		t.Fatalf("release first lock: %v", err)
	}
	if err := first.Release(); err != nil {
		t.Fatalf("second release must be a no-op: %v", err)
	}

	again, err := AcquirePortLock("riglink", 4532)
	if err != nil {
		t.Fatalf("acquire lock after release: %v", err)
	}
	if err := again.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
}

func TestPortLockDirPrefersXDGRuntimeDir(t *testing.T) {
	runtimeDir := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", runtimeDir)

	dir, err := portLockDir("riglink")
	if err != nil {
		t.Fatalf("resolve lock dir: %v", err)
	}
	if want := filepath.Join(runtimeDir, "riglink"); dir != want {
		t.Fatalf("expected %q, got %q", want, dir)
	}
}

func TestPortLockDirFallsBackToTemp(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "")

	dir, err := portLockDir("riglink-test-" + strconv.Itoa(os.Getpid()))
	if err != nil {
		t.Fatalf("resolve lock dir: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	if !strings.HasSuffix(dir, "-"+strconv.Itoa(os.Getuid())) {
		t.Fatalf("expected per-uid dir, got %q", dir)
	}
}
