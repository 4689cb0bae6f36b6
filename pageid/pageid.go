// Package pageid defines the physical page identifier shared by the
// buffer, mapping, node and btree packages, along with the sentinel
// values the on-disk format reserves (spec §6 "Sentinels").
package pageid

import "math"

// ID is a physical page identifier: a 4-byte slot address on the
// device, the width of the on-disk prevId header field (spec §3). The
// header's logicalId is a separate write counter, not an ID.
type ID uint32

// None is the sentinel meaning "no previous incarnation" for a page's
// prevId field, and "no page" for a child lookup that finds nothing.
// Its bit pattern is 2^32-1 (spec §6); mapping table slots track
// empty/used/removed with their own state field instead.
const None ID = ID(math.MaxUint32)

// Valid reports whether id is a real page id rather than the sentinel.
func (id ID) Valid() bool { return id != None }
