// Package plist implements encoding and decoding of Apple's "property list" format.
// Property lists come in three sorts: XML, binary v00 and binary v15.
// plist decodes and encodes all three; the in-memory representation they
// share is the typed value tree in package cf.
package plist
