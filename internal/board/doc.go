// Package board talks to the network-attached relay board and its panels.
//
// The board speaks a tiny HTTP protocol:
//
//	GET  /esp   liveness probe used to find the board on the subnet
//	POST /set   text/plain decimal bitmask; the board answers with the mask it applied
//
// Panels are found with a UDP broadcast of "WhereAreYou.01" to port 991 of
// the subnet; every host that answers is a panel.
//
// A Registry holds the single board known to the process. It moves from
// unregistered to registered exactly once, either through discovery at
// startup or through an explicit registration from the board itself.
package board
