// Package relay defines the relay table shared by every client of the board.
//
// A table is an ordered list of relay items. Each item maps to one output on
// the physical board: item id N drives bit N-1 of the bitmask sent to the
// board. Items that are switched off carry sentinel name and address values
// so the UI can tell "no panel attached" apart from a real assignment.
//
// The package also owns persistence: the whole table is stored as one JSON
// document, and every accepted mutation can additionally be appended to an
// SQLite history table for auditing.
package relay
