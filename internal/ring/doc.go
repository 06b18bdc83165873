// Package ring implements static replica placement. Node identities are
// sorted into a fixed ring; a key's replica set starts at the position
// chosen by the key's hash and walks forward, wrapping around.
package ring
