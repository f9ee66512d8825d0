package providers

import "sync"

// The global manager reference is published once at startup so tools
// that need embeddings (semantic memory recall) can reach a provider
// without threading the manager through every call path. Tools never
// use it for chat; chat always flows through the agent loop's own
// manager reference.
var (
	globalMu      sync.RWMutex
	globalManager *ProviderManager
)

// SetGlobalManager publishes the process-wide manager. The first call
// wins; later calls are ignored so a test wiring can't be clobbered by
// a late startup path.
func SetGlobalManager(m *ProviderManager) {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalManager == nil {
		globalManager = m
	}
}

// GlobalManager returns the published manager, or nil before startup
// completes.
func GlobalManager() *ProviderManager {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalManager
}

// ResetGlobalManager clears the published reference. Test helper.
func ResetGlobalManager() {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalManager = nil
}
