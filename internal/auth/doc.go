// Package auth issues and verifies probe credentials.
//
// A credential is an HS256 JWT whose "sub" claim is the probe ID and whose
// "iss" claim is "probe-fleet". Credentials are signed with
// auth.credential_secret and expire after auth.credential_ttl:
//
//	issuer := auth.NewCredentialIssuer(secret, clock.WallClock)
//	token, err := issuer.Issue(probeID, ttl)
//	probeID, err := issuer.Verify(token)
//
// Verification uses the issuer's clock, so tests drive expiry with a
// test clock instead of sleeping.
package auth
