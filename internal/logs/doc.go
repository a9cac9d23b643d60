// Package logs reads the daemon's line-oriented log files for the CLI.
//
// Last returns the final lines of a file together with the byte offset of its
// end; ReadFrom continues from such an offset; Follow polls for new lines until
// the context ends. A file that shrinks below the saved offset (rotation or a
// fresh run behind the same pointer) is read again from the start.
package logs
