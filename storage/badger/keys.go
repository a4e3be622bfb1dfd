package badger

import (
	"encoding/binary"
	"fmt"
)

// Key prefixes for different data types
const (
	documentPrefix       = "docrec"
	documentClientPrefix = "docrecc"
	documentSeq          = "docrecseq"
	graphPrefix          = "graphsnap"
)

// makeDocumentKey generates a key for a document record by ID.
func makeDocumentKey(id string) []byte {
	return []byte(fmt.Sprintf("%s:%s", documentPrefix, id))
}

// makeDocumentClientKey generates a composite key for the client index.
// Format: prefix:clientID\x00seq
// The NUL separator keeps one client's keys from prefixing another's.
func makeDocumentClientKey(clientID string, seq uint64) []byte {
	prefix := makePartialDocumentClientKey(clientID)
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	// Write in BigEndian order so lexicographic sort follows insertion order
	binary.BigEndian.PutUint64(buf[offset:], seq)
	return buf
}

// makePartialDocumentClientKey generates the prefix for client index scans.
func makePartialDocumentClientKey(clientID string) []byte {
	return []byte(documentClientPrefix + ":" + clientID + "\x00")
}

// makeGraphKey generates a key for a document's graph snapshot.
func makeGraphKey(documentID string) []byte {
	return []byte(fmt.Sprintf("%s:%s", graphPrefix, documentID))
}
