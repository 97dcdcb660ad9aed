// Package keys implements the signing keys used by the pointer registry
// client. Every pointer update and ownership transfer is signed with a
// secp256k1 key; the registry verifies the signature before committing the
// write.
package keys
