package supervisor

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/skobkin/riglink/internal/platform"
)

// ProcessFinder looks up a running process by executable name.
type ProcessFinder interface {
	FindProcess(ctx context.Context, name string) (ProcessInfo, error)
}

// FinderFunc adapts a function to ProcessFinder.
type FinderFunc func(ctx context.Context, name string) (ProcessInfo, error)

func (f FinderFunc) FindProcess(ctx context.Context, name string) (ProcessInfo, error) {
	return f(ctx, name)
}

// procFinder scans a procfs tree. The first process whose comm matches
// name wins; the current process is skipped.
type procFinder struct {
	root string
}

func (f procFinder) FindProcess(ctx context.Context, name string) (ProcessInfo, error) {
	entries, err := os.ReadDir(f.root)
	if err != nil {
		return ProcessInfo{}, fmt.Errorf("read %s: %w", f.root, err)
	}

	self := os.Getpid()
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return ProcessInfo{}, err
		}
		pid, err := strconv.Atoi(entry.Name())
		if err != nil || pid == self {
			continue
		}
		dir := filepath.Join(f.root, entry.Name())
		comm, err := os.ReadFile(filepath.Join(dir, "comm"))
		if err != nil || strings.TrimSpace(string(comm)) != name {
			continue
		}

		info := ProcessInfo{Running: true, PID: pid}
		if exe, err := os.Readlink(filepath.Join(dir, "exe")); err == nil {
			info.Path = exe
		}
		return info, nil
	}

	return ProcessInfo{}, nil
}

// pgrepFinder asks pgrep for an exact name match.
type pgrepFinder struct {
	runner platform.CommandRunner
}

func (f pgrepFinder) FindProcess(ctx context.Context, name string) (ProcessInfo, error) {
	out, err := f.runner.Run(ctx, "pgrep", "-x", name)
	if err != nil {
		// pgrep exits 1 when nothing matched.
		var cmdErr *platform.CommandError
		if errors.As(err, &cmdErr) && cmdErr.ExitCode() == 1 {
			return ProcessInfo{}, nil
		}
		return ProcessInfo{}, err
	}

	return parsePgrep(out.Stdout), nil
}

func parsePgrep(output string) ProcessInfo {
	for _, field := range strings.Fields(output) {
		if pid, err := strconv.Atoi(field); err == nil && pid > 0 {
			return ProcessInfo{Running: true, PID: pid}
		}
	}

	return ProcessInfo{}
}

// tasklistFinder filters tasklist by image name in CSV form.
type tasklistFinder struct {
	runner platform.CommandRunner
}

func (f tasklistFinder) FindProcess(ctx context.Context, name string) (ProcessInfo, error) {
	image := name
	if !strings.HasSuffix(strings.ToLower(image), ".exe") {
		image += ".exe"
	}
	out, err := f.runner.Run(ctx, "tasklist", "/FI", "IMAGENAME eq "+image, "/FO", "CSV", "/NH")
	if err != nil {
		return ProcessInfo{}, err
	}

	return parseTasklistCSV(out.Stdout, image)
}

// parseTasklistCSV reads rows like "rigctld.exe","1234","Console","1","10,240 K".
// Without a match tasklist prints an INFO line instead of CSV.
func parseTasklistCSV(output, image string) (ProcessInfo, error) {
	output = strings.TrimSpace(output)
	if output == "" || strings.HasPrefix(output, "INFO:") {
		return ProcessInfo{}, nil
	}

	reader := csv.NewReader(strings.NewReader(output))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return ProcessInfo{}, fmt.Errorf("parse tasklist output: %w", err)
	}
	for _, record := range records {
		if len(record) < 2 || !strings.EqualFold(strings.TrimSpace(record[0]), image) {
			continue
		}
		pid, err := strconv.Atoi(strings.TrimSpace(record[1]))
		if err != nil {
			continue
		}
		return ProcessInfo{Running: true, PID: pid}, nil
	}

	return ProcessInfo{}, nil
}
