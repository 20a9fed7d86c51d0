package platform

import "runtime"

// HostInfo returns the reference Info implementation, backed by
// runtime.GOOS/runtime.GOARCH (§6).
func HostInfo() Info {
	return Info{OS: runtime.GOOS, Architecture: runtime.GOARCH}
}
