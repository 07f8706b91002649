// Package fingerprint computes and caches the content digests that drive
// staleness decisions. A digest covers file bytes, never timestamps, so
// touching a file without changing it does not invalidate anything built
// from it.
package fingerprint
