// Package snapshot persists the latest engine snapshot so operators can
// inspect account state after a restart. It is write-mostly: the engine never
// reads it back to seed its caches.
package snapshot
