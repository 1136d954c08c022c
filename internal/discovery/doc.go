// Package discovery advertises the relayboard API over mDNS so panels and
// tools on the LAN can find the controller without a configured address.
//
// The service type is _relayboard._tcp in the local domain. TXT records
// carry the software version, the API base path and the device tag boards
// register with.
package discovery
