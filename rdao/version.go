package rdao

import "github.com/kolkov/rdao/internal/rdao/ir"

// Version information for the engine.
const (
	// Version is the current version of the engine.
	Version = "0.3.0"

	// VersionMajor is the major version number.
	VersionMajor = 0

	// VersionMinor is the minor version number.
	VersionMinor = 3

	// VersionPatch is the patch version number.
	VersionPatch = 0
)

// Info describes the engine build.
type Info struct {
	// Version is the engine version string.
	Version string

	// IRFormat is the major version of the IR documents the engine reads.
	IRFormat string

	// Detectors lists the defect classes the engine reports.
	Detectors []string
}

// GetInfo returns information about the engine.
//
// Example:
//
//	info := rdao.GetInfo()
//	fmt.Printf("rdao %s (IR %s)\n", info.Version, info.IRFormat)
func GetInfo() Info {
	classes := []Class{ClassRace, ClassDeadlock, ClassAtomicity, ClassOrder, ClassUnsafeRecursion}
	names := make([]string, len(classes))
	for i, c := range classes {
		names[i] = c.String()
	}
	return Info{
		Version:   Version,
		IRFormat:  ir.FormatMajor,
		Detectors: names,
	}
}
