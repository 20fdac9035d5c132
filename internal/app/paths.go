package app

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// Paths stores resolved runtime file locations for user config and logs.
type Paths struct {
	RootDir        string
	ConfigFile     string
	LogFile        string
	BundledRigctld string
}

func ResolvePaths() (Paths, error) {
	cfgRoot, err := os.UserConfigDir()
	if err != nil {
		return Paths{}, fmt.Errorf("resolve config dir: %w", err)
	}

	root := filepath.Join(cfgRoot, Name)
	if err := os.MkdirAll(root, 0o750); err != nil {
		return Paths{}, fmt.Errorf("create app config dir: %w", err)
	}

	return pathsUnder(root), nil
}

// PathsForConfigFile places every other file next to an explicit config file.
func PathsForConfigFile(configFile string) Paths {
	paths := pathsUnder(filepath.Dir(configFile))
	paths.ConfigFile = configFile

	return paths
}

func pathsUnder(root string) Paths {
	return Paths{
		RootDir:        root,
		ConfigFile:     filepath.Join(root, ConfigFilename),
		LogFile:        filepath.Join(root, LogFilename),
		BundledRigctld: filepath.Join(root, HamlibDir, "bin", rigctldExecutable(runtime.GOOS)),
	}
}

func rigctldExecutable(goos string) string {
	if goos == "windows" {
		return "rigctld.exe"
	}

	return "rigctld"
}
