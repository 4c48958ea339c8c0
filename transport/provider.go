package transport

import (
	"context"
	"crypto/tls"
)

// SecurityProvider produces the tokens of one authentication handshake.
//
// # Thread Safety
//
// SecurityProvider implementations are NOT safe for concurrent use. The
// provider keeps handshake state between steps.
//
// # Authentication Flow
//
//  1. Step(nil) returns the initial token
//  2. The token is sent to the server
//  3. The server answers with a challenge
//  4. Step(challenge) returns the response token
//  5. Repeat until Complete() returns true
type SecurityProvider interface {
	// Step consumes a server token, nil on the first call, and returns the
	// next client token. continueNeeded is true while more legs follow.
	Step(ctx context.Context, inputToken []byte) (outputToken []byte, continueNeeded bool, err error)

	// Complete reports whether the handshake finished.
	Complete() bool

	// Close releases provider resources.
	Close() error
}

// ChannelBinder is implemented by providers that bind their tokens to the
// TLS channel. BindTLS is called with the connection state of each
// challenge response received over TLS.
type ChannelBinder interface {
	BindTLS(state *tls.ConnectionState)
}
