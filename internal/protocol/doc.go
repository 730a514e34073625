// Package protocol owns the node<->peer wire contract.
//
// Ownership boundary:
// - message type and connection mode enumerations
// - status taxonomy shared by every transport/framing operation
// - fixed wire constants (ports, markers, packet sizes)
//
// Header encoding lives in frame; scalar payload layout lives in scalar.
package protocol
