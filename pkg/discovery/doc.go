// Package discovery resolves controller host names before a transport
// dials them.
//
// A descriptor host of the form
//
//	<instance>.<_service>._tcp.local
//
// names a DNS-SD service instance. MDNSResolver browses for the service
// with multicast DNS and returns the first address advertised by the
// matching instance. Any other host is returned unchanged, so a resolver
// can be installed on every transport.
//
// StaticResolver maps fixed host names and falls through to another
// resolver for the rest.
package discovery
