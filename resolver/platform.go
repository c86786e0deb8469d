package resolver

import (
	"runtime"

	"github.com/judepayne/go-pods/errs"
)

// OSFamily maps Go's GOOS to the manifest's os vocabulary.
func OSFamily() string {
	switch runtime.GOOS {
	case "darwin":
		return "macos"
	case "windows":
		return "windows"
	default:
		return "linux"
	}
}

// ArchName maps Go's GOARCH to the manifest's arch vocabulary.
func ArchName() string {
	switch runtime.GOARCH {
	case "arm64":
		return "aarch64"
	default:
		return "x86_64"
	}
}

// SelectArtifact picks the first artifact matching os/arch, applying the
// macOS aarch64 -> x86_64 (Rosetta) fallback when no native artifact exists.
func SelectArtifact(artifacts []Artifact, os, arch string) (Artifact, error) {
	for _, a := range artifacts {
		if a.OS == os && a.Arch == arch {
			return a, nil
		}
	}
	if os == "macos" && arch == "aarch64" {
		for _, a := range artifacts {
			if a.OS == "macos" && a.Arch == "x86_64" {
				return a, nil
			}
		}
	}
	return Artifact{}, errs.New(errs.PlatformUnsupported, "no artifact for os=%s arch=%s", os, arch)
}
