// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import "fmt"

// Disconnect reason codes, RFC 4253 section 11.1.
const (
	DisconnectProtocolError             = 2
	DisconnectKeyExchangeFailed         = 3
	DisconnectMACError                  = 5
	DisconnectCompressionError          = 6
	DisconnectServiceNotAvailable       = 7
	DisconnectProtocolVersionNotSupport = 8
	DisconnectConnectionLost            = 10
	DisconnectByApplication             = 11
)

// DisconnectError is the typed error this package returns for
// packet-engine faults (oversize or malformed packets, MAC or GCM tag
// failures) and for unexpected messages during authentication: it
// carries both the RFC 4253 reason code and a human-readable message.
// Other fatal conditions, such as I/O errors, algorithm-negotiation
// failures, an unexpected message in place of NEWKEYS and
// authentication exhaustion, are returned as plain errors.
type DisconnectError struct {
	Reason  uint32
	Message string
}

func (e *DisconnectError) Error() string {
	return fmt.Sprintf("ssh: disconnect (reason %d): %s", e.Reason, e.Message)
}

// Marshal encodes the error as an outbound SSH_MSG_DISCONNECT payload.
func (e *DisconnectError) Marshal() []byte {
	return marshalDisconnect(e.Reason, e.Message)
}

func disconnectf(reason uint32, format string, args ...interface{}) *DisconnectError {
	recordDisconnect(reason)
	return &DisconnectError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}
