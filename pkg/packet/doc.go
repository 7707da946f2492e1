// Package packet defines the boundary between the communications core and
// the packet wire format.
//
// The core never interprets packets. It needs three things from this
// package:
//   - Packet: an opaque unit of traffic
//   - Codec: conversion between packets and the bytes a transport moves
//   - Completion: a handle resolved once a transmit outcome is known
//
// Two codecs are provided. RawCodec moves bytes unchanged. CBORCodec
// exchanges Envelope values encoded with integer keys.
package packet
