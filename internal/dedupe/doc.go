// Package dedupe provides a replay cache for idempotent message sends,
// so a retried request returns the original result within a time window.
package dedupe
