// Package identifier implements the 160-bit identifier space shared by
// nodes and keys in the DHT, along with the XOR distance metric used to
// order the routing table and drive iterative lookups.
//
// Example:
//
//	id, err := identifier.Random()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	key := identifier.Digest("hello")
//	d := identifier.XOR(id, key)
package identifier
