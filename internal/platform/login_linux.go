//go:build linux

package platform

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type xdgLoginLauncher struct{}

func newLoginLauncher() LoginLauncher {
	return xdgLoginLauncher{}
}

// Sync writes or removes an XDG autostart desktop entry.
func (xdgLoginLauncher) Sync(entry LoginEntry) error {
	desktopPath, err := desktopEntryPath()
	if err != nil {
		return err
	}

	if !entry.Enabled {
		if err := os.Remove(desktopPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove login desktop entry: %w", err)
		}
		return nil
	}

	executable, args, err := buildLaunchCommand(entry)
	if err != nil {
		return err
	}

	if err := writeFileAtomically(desktopPath, []byte(renderDesktopEntry(desktopExecLine(executable, args))), 0o644); err != nil {
		return fmt.Errorf("write login desktop entry: %w", err)
	}

	return nil
}

func desktopEntryPath() (string, error) {
	cfgHome := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME"))
	if cfgHome == "" {
		var err error
		cfgHome, err = os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("resolve user config dir: %w", err)
		}
	}

	return filepath.Join(filepath.Clean(cfgHome), "autostart", loginEntryName+".desktop"), nil
}

func renderDesktopEntry(execLine string) string {
	return fmt.Sprintf(`[Desktop Entry]
Type=Application
Version=1.0
Name=riglink
Comment=Keep rigctld running and connected
Exec=%s
Terminal=false
NoDisplay=true
X-GNOME-Autostart-enabled=true
`, execLine)
}

// desktopExecLine quotes every field per the desktop entry Exec rules.
func desktopExecLine(executable string, args []string) string {
	fields := make([]string, 0, 1+len(args))
	fields = append(fields, quoteExecField(executable))
	for _, arg := range args {
		fields = append(fields, quoteExecField(arg))
	}

	return strings.Join(fields, " ")
}

func quoteExecField(arg string) string {
	escaped := strings.ReplaceAll(arg, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	escaped = strings.ReplaceAll(escaped, "$", `\$`)
	escaped = strings.ReplaceAll(escaped, "`", "\\`")

	return `"` + escaped + `"`
}

func writeFileAtomically(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create dir %q: %w", dir, err)
	}

	tmpFile, err := os.CreateTemp(dir, loginEntryName+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	return nil
}
