// Package ipmask obfuscates client IP addresses before they enter the
// event stream. Three forms with different re-identification risk are
// produced: a collision-prone hash for coarse analytics, a peppered
// cryptographic hash for consented identity joins, and a truncated geo
// form for location lookups.
package ipmask
