// Package arm is a read-only Azure Resource Manager client covering the
// endpoints the move simulator consumes: management groups, policy and
// initiative definitions, assignments, exemptions, and resource
// inventories. All requests share one retry policy (bounded exponential
// backoff with jitter, server Retry-After hints honored) and one lenient
// JSON decoder that tolerates string-encoded bodies and case-variant
// duplicate keys.
package arm
