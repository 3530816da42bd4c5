package explorer

import "errors"

// errAffinityUnsupported reports that CPU pinning is unavailable in this
// build; workers run unpinned.
var errAffinityUnsupported = errors.New("explorer: thread affinity is not supported on this platform")

// bindThisThreadToCPU requests that the calling thread be pinned to a CPU.
// The portable build has no binding mechanism; callers treat the error as a
// degradation, not a failure.
func bindThisThreadToCPU(cpu int) error {
	return errAffinityUnsupported
}
