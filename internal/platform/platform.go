// Package platform answers the host questions the bridge cares about:
// which OS flavor it runs on and whether file events can be trusted for
// the events log.
package platform

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

// Platform is the detected host flavor.
type Platform string

const (
	PlatformMacOS   Platform = "macos"
	PlatformLinux   Platform = "linux"
	PlatformWSL1    Platform = "wsl1"
	PlatformWSL2    Platform = "wsl2"
	PlatformWindows Platform = "windows"
	PlatformUnknown Platform = "unknown"
)

var (
	detectOnce sync.Once
	detected   Platform
)

// Detect returns the current platform. The result is cached.
func Detect() Platform {
	detectOnce.Do(func() {
		detected = detect(runtime.GOOS, os.Getenv("WSL_DISTRO_NAME"), readFile("/proc/version"), exists)
	})
	return detected
}

func detect(goos, wslDistro, procVersion string, exists func(string) bool) Platform {
	switch goos {
	case "darwin":
		return PlatformMacOS
	case "windows":
		return PlatformWindows
	case "linux":
	default:
		return PlatformUnknown
	}

	if wslDistro == "" && !strings.Contains(strings.ToLower(procVersion), "microsoft") {
		return PlatformLinux
	}
	// WSL2 kernels report "microsoft-standard"; WSL1 reports "Microsoft".
	switch {
	case strings.Contains(procVersion, "microsoft-standard"):
		return PlatformWSL2
	case strings.Contains(procVersion, "Microsoft"):
		return PlatformWSL1
	case exists("/run/WSL"), exists("/dev/vsock"):
		return PlatformWSL2
	}
	return PlatformWSL1
}

// IsWSL reports whether the bridge runs under either WSL version.
func IsWSL() bool {
	p := Detect()
	return p == PlatformWSL1 || p == PlatformWSL2
}

func (p Platform) String() string {
	switch p {
	case PlatformMacOS:
		return "macOS"
	case PlatformLinux:
		return "Linux"
	case PlatformWSL1:
		return "WSL1"
	case PlatformWSL2:
		return "WSL2"
	case PlatformWindows:
		return "Windows"
	}
	return "Unknown"
}

// WatchWarning explains why file events for path may never arrive, or
// returns "" when they should work. The events follower polls either way;
// a warning means delivery runs at poll speed.
func WatchWarning(path string) string {
	if runtime.GOOS != "linux" {
		return ""
	}
	if Detect() == PlatformWSL1 {
		return "WSL1 does not deliver inotify events reliably"
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return ""
	}
	return fsWarning(mountFSType(abs, readFile("/proc/mounts")))
}

// mountFSType returns the filesystem type of the longest mount point
// containing path, given /proc/mounts content.
func mountFSType(path, mounts string) string {
	var best, fsType string
	for _, line := range strings.Split(mounts, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		mount := fields[1]
		if !within(path, mount) || len(mount) <= len(best) {
			continue
		}
		best, fsType = mount, fields[2]
	}
	return fsType
}

func within(path, mount string) bool {
	if mount == "/" {
		return strings.HasPrefix(path, "/")
	}
	return path == mount || strings.HasPrefix(path, mount+"/")
}

func fsWarning(fsType string) string {
	switch {
	case fsType == "9p":
		return "events log on a 9p mount (WSL2 Windows drive): file events are not delivered"
	case fsType == "nfs" || fsType == "nfs4":
		return "events log on NFS: file events may be missed"
	case fsType == "cifs" || fsType == "smbfs":
		return "events log on CIFS/SMB: file events may be missed"
	case strings.HasPrefix(fsType, "fuse.sshfs"):
		return "events log on SSHFS: file events are not delivered"
	}
	return ""
}

func readFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
