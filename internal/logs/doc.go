// Package logs reads the daemon log for `moneymind logs`.
//
// Last returns the final lines of a log with bounded memory, and Follow
// streams lines appended afterwards. Follow survives the rotation performed
// at daemon startup: when the file shrinks or is replaced it starts over from
// the beginning of the new file.
package logs
