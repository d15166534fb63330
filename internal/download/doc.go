// Package download stores discovered PDF documents on the local filesystem.
//
// # Guarantees
//
//   - An existing file is never overwritten. A record whose target file
//     already exists ends in the already_exists status.
//   - A partially written file is never visible under its final name.
//     Bytes are streamed to a temporary file in the destination directory and
//     linked into place only after the whole body was received.
//   - When two downloads race for the same name, the first to finish wins
//     and the other reports already_exists.
//
// Each successful download records a SHA3-256 checksum of the bytes and the
// document information fields read by package pdfmeta.
package download
