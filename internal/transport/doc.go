// Package transport carries Modbus requests over TCP or RTU serial
// links.
//
// A Client owns one endpoint and serializes every request on it:
// Modbus slaves on a shared serial bus cannot interleave frames, and
// TCP gateways for such buses inherit the same constraint. The Pool
// hands the same Client to every device configured against the same
// endpoint, so the serialization holds across devices too.
//
// The client never reconnects on its own. A request that faults the
// link marks the client disconnected and the owning poll loop decides
// when to dial again; protocol exceptions and timeouts leave the
// session up, since the device answered or may answer next cycle.
//
// # Error Classification
//
//   - ErrProtocol: the slave replied with a Modbus exception
//   - ErrTimeout: the bounded call elapsed without a reply
//   - ErrConnect: the link itself failed; the session is dropped
//   - ErrNotConnected: request issued before Connect succeeded
package transport
