//  wal implements the metadata write-ahead log
//
//  The log is one segment at the start of the device:
//  [ record | record | ... | record | LOGEND | stale bytes ... ]
//   ^                                          ^
//   0                                          len(staging)
//
//  A record is RECORDPRESENT followed by an entity, an attribute symbol
//  and a value. Nodes and symbols are interned: the first time one is
//  encoded it is written in full (a def) and given the next id, and later
//  encodings refer to that id. The root node is always id 0. Every flush
//  rewrites the segment prefix ending in LOGEND with a single device write;
//  replay stops at the first tag that is not RECORDPRESENT, which must be
//  LOGEND.
package wal

// frame tags
const (
	LOGEND           byte = 1
	RECORDPRESENT    byte = 2
	SEGMENTEND       byte = 3
	SEGMENTEXTENSION byte = 4
)

// value kinds
const (
	kindAbsent  byte = 0
	kindNodeRef byte = 1
	kindNodeDef byte = 2
	kindSymRef  byte = 3
	kindSymDef  byte = 4
	kindBytes   byte = 5
)

const ROOTID uint64 = 0
