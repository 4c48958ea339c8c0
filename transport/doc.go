// Package transport turns a resolved selection into HTTP authentication.
//
// NewAuthenticator inspects the selection's AuthInfo and the credential it
// acquired and returns an Authenticator whose round tripper runs the
// handshake:
//
//   - Kerberos: SPNEGO tokens built with github.com/go-krb5/krb5 from the
//     client held by the credential's ticket cache
//   - NTLM wrapped in SPNEGO: the Negotiate scheme with raw NTLMSSP tokens,
//     bound to the server certificate when the challenge arrives over TLS
//   - NTLM: the NTLM scheme via github.com/Azure/go-ntlmssp
//
// Usage:
//
//	info, _ := sel.AuthInfo(ctx)
//	cred, _ := sel.AcquireCredential(ctx, authsel.Secrets{})
//	a, err := transport.NewAuthenticator(info, cred)
//	if err != nil {
//	    return err
//	}
//	client := transport.NewHTTPClient(a, transport.WithTimeout(time.Minute))
package transport
