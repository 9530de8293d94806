// Package mp carries task directives between nodes.
//
// Proxy implements task.Locator on top of a Transport. Messages are CBOR
// envelopes; HTTPTransport posts them to a peer's Server, Loopback delivers
// them in process.
package mp
