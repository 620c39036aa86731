// Package sshkeys loads the private keys used to authenticate tunnels to
// remote instances.
//
// Only key-based authentication is supported. Each instance names a private
// key file on the local filesystem; the file is read and parsed every time a
// tunnel is created, so a rotated key takes effect on the next connection
// without a restart. Unreadable or unparseable key files are reported as
// *KeyError.
//
// [GenerateKeyPair] and [WriteKeyFile] produce ED25519 keys in the same
// format the loader accepts.
package sshkeys
