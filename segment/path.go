package segment

import "strings"

// shmDir is the POSIX shared-memory namespace mount point on Linux.
const shmDir = "/dev/shm"

// CanonicalPath resolves a caller-facing logical name to the file path of
// the backing shared-memory object: "/dev/shm/shm_<name>" (the file behind
// the POSIX shared-memory name "/shm_<name>") with every interior '/'
// replaced by '_' and any leading '/' stripped first.
//
// Same logical name always produces the same path (spec.md §3).
func CanonicalPath(name string) string {
	return shmDir + "/" + CanonicalBaseName(name)
}

// CanonicalBaseName returns the bare file name under /dev/shm (without the
// directory prefix), e.g. for use by the shmctl list/remove CLI.
func CanonicalBaseName(name string) string {
	trimmed := strings.TrimPrefix(name, "/")
	return "shm_" + strings.ReplaceAll(trimmed, "/", "_")
}

// IsManagedName reports whether baseName (a file name under /dev/shm) was
// created by this package, i.e. begins with the "shm_" prefix used by
// CanonicalBaseName.
func IsManagedName(baseName string) bool {
	return strings.HasPrefix(baseName, "shm_")
}
