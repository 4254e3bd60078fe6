// Package cache provides the block cache used for ranged reads from remote
// blob stores.
package cache
