// Package authselect chooses which credentials to try when authenticating to
// a network service with Kerberos or NTLM.
//
// Given a hostname, a service name and whatever the caller knows (a username,
// a password, client certificates, the mechanisms the server advertised),
// a session enumerates ranked candidate selections. Each selection pairs a
// client identity with a server principal and a mechanism, and can be turned
// into a live credential in the shared credential store.
//
// # Architecture
//
// The library is organized into layers:
//
//	┌─────────────────────────────────────────────────────────┐
//	│  cmd/authselect  Command-line front end                 │
//	├─────────────────────────────────────────────────────────┤
//	│  transport/      HTTP Negotiate and NTLM authenticators │
//	├─────────────────────────────────────────────────────────┤
//	│  authsel/        Sessions, selections, references       │
//	├─────────────────────────────────────────────────────────┤
//	│  resolver/       Realm discovery (krb5.conf, DNS, LKDC) │
//	│  mechhint/       SPNEGO mechanism advertisements        │
//	├─────────────────────────────────────────────────────────┤
//	│  kerberos/       go-krb5 ticket library                 │
//	│  credstore/      Credential store with holds and labels │
//	│  certs/          Client certificate identities          │
//	└─────────────────────────────────────────────────────────┘
//
// # Quick Start
//
//	s, err := authsel.NewSession(ctx, "fileserver.example.com", "cifs", authsel.Hints{
//	    Username: "alice",
//	    Password: "secret",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
//	for _, sel := range s.Selections() {
//	    cred, err := sel.AcquireCredential(ctx, authsel.Secrets{})
//	    if err != nil {
//	        continue
//	    }
//	    info, _ := sel.AuthInfo(ctx)
//	    auth, _ := transport.NewAuthenticator(info, cred)
//	    client := transport.NewHTTPClient(auth)
//	    ...
//	}
package authselect
