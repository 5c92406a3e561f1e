// Package discovery tells LAN clients where the localshare server is.
//
// Publisher computes the address a phone on the same network should dial:
// the first up, non-loopback IPv4 address in interface enumeration order,
// falling back to localhost when the host has no usable interface. The
// result is cached; Watch re-enumerates interfaces periodically and drops
// the cache when the address set changes, so a laptop that hops networks
// shows a fresh QR code.
//
// Beacon optionally announces the address on a link-local multicast group
// and Browse collects such announcements, which lets the CLI find servers
// without typing an address.
package discovery
