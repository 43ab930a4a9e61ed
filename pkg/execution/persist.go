package execution

import (
	"strings"

	"github.com/dagframe/dagframe/pkg/errdefs"
)

// PersistLevel is the storage level of a persisted dataframe.
type PersistLevel string

const (
	// MemoryOnly keeps partitions in memory.
	MemoryOnly PersistLevel = "MEMORY_ONLY"

	// MemoryAndDisk keeps partitions in memory. Engines that can't hold
	// everything in memory spill the rest to disk.
	MemoryAndDisk PersistLevel = "MEMORY_AND_DISK"

	// DiskOnly writes partitions to the engine's spill storage and reads
	// them back on every access.
	DiskOnly PersistLevel = "DISK_ONLY"
)

// ParsePersistLevel parses a storage level name. The empty string returns
// def.
func ParsePersistLevel(name string, def PersistLevel) (PersistLevel, error) {
	switch level := PersistLevel(strings.ToUpper(strings.TrimSpace(name))); level {
	case "":
		return def, nil
	case MemoryOnly, MemoryAndDisk, DiskOnly:
		return level, nil
	}
	return "", errdefs.Configurationf("%s is not supported persist type", name)
}
