// Package authsel decides how a client should authenticate to a host and
// service, and obtains and shares the resulting credentials.
//
// NewSession runs a fixed sequence of guessing strategies (existing local-KDC
// caches, the well-known local KDC, classic Kerberos realms, classic
// local-KDC discovery, remaining caches, PKU2U and NTLM) and records each
// guess as a Selection in a deduplicated, ordered registry:
//
//	sess, err := authsel.NewSession(ctx, "host.example.com", "cifs", authsel.Hints{
//		Username: "alice",
//		Password: password,
//	})
//	if err != nil {
//		return err
//	}
//	defer sess.Close()
//
//	for _, sel := range sess.Selections() {
//		cred, err := sel.AcquireCredential(ctx, authsel.Secrets{})
//		if err != nil {
//			continue
//		}
//		key, _ := sel.ReferenceKey(ctx)
//		...
//	}
//
// Some selections learn their server identity from a background lookup.
// Every accessor waits for that lookup, and returns ErrCanceled once the
// session has been canceled.
//
// Credentials created by AcquireCredential are tagged as self-managed and
// start with one hold. References adds and drops further holds by reference
// key; credentials the engine did not create are never touched.
package authsel
