package core

// LocalID is a dense, replica-internal identifier for an object. It is
// strictly 32-bit so it can feed bitset-based secondary indexes. LocalIDs
// are never persisted or exchanged; only the 128-bit ID crosses the
// process boundary.
type LocalID uint32

// MaxLocalID is the maximum possible value for a LocalID.
const MaxLocalID = ^LocalID(0)
