package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smnsjas/go-authselect/authsel"
)

const testKrb5Conf = `[libdefaults]
  default_realm = EXAMPLE.COM
`

func writeKrb5Conf(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "krb5.conf")
	require.NoError(t, os.WriteFile(path, []byte(testKrb5Conf), 0o600))
	return path
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	t.Setenv("AUTHSELECT_PASSWORD", "")
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, strings.NewReader(""), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestParseMechs(t *testing.T) {
	sm, err := parseMechs("")
	require.NoError(t, err)
	assert.Nil(t, sm)

	sm, err = parseMechs("Kerberos, NTLM")
	require.NoError(t, err)
	assert.True(t, sm.Advertises(authsel.MechKerberos))
	assert.True(t, sm.Advertises(authsel.MechNTLM))
	assert.Len(t, sm, 2)

	_, err = parseMechs("Kerberos,Basic")
	assert.ErrorContains(t, err, "Basic")
}

func TestRun_RequiresHostAndService(t *testing.T) {
	code, _, stderr := runCLI(t, "-host", "web")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "-host and -service are required")
}

func TestRun_NTLMAcquire(t *testing.T) {
	code, stdout, stderr := runCLI(t,
		"-host", "web.example.com", "-service", "HTTP",
		"-user", `CORP\alice`, "-pass", "pw",
		"-mechs", "NTLM", "-no-dns",
		"-krb5conf", writeKrb5Conf(t),
		"-acquire", "1",
		"-hold", `ntlm:CORP\alice`,
		"-label", `ntlm:CORP\alice=mount-1`,
		"-release", "mount-1",
	)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, `Acquired CORP\alice (ntlm)`)
	assert.Contains(t, stdout, "NTLM")
	assert.Contains(t, stdout, "HTTP@web.example.com")
}

func TestRun_UnknownReferenceKey(t *testing.T) {
	code, _, stderr := runCLI(t,
		"-host", "web.example.com", "-service", "HTTP",
		"-mechs", "NTLM", "-no-dns",
		"-krb5conf", writeKrb5Conf(t),
		"-hold", "krb5:nobody@EXAMPLE.COM",
	)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "credential not found")
}

func TestRun_JSON(t *testing.T) {
	code, stdout, stderr := runCLI(t,
		"-host", "fileserver.example.com", "-service", "cifs",
		"-user", "alice", "-pass", "pw",
		"-mechs", "Kerberos", "-no-dns",
		"-krb5conf", writeKrb5Conf(t),
		"-json",
	)
	require.Equal(t, 0, code, stderr)

	var out []map[string]string
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "Kerberos", out[0]["mechanism"])
	assert.Equal(t, "alice@EXAMPLE.COM", out[0]["client-name"])
	assert.Equal(t, "cifs/fileserver.example.com@EXAMPLE.COM", out[0]["server-name"])
	assert.Equal(t, "false", out[0]["have-credential"])
}

func TestRun_AcquireAllReportsFailures(t *testing.T) {
	code, stdout, stderr := runCLI(t,
		"-host", "web.example.com", "-service", "HTTP",
		"-user", "alice",
		"-mechs", "Kerberos", "-no-dns",
		"-krb5conf", writeKrb5Conf(t),
		"-acquire-all",
	)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "1: failed:")
	assert.Contains(t, stdout, "no secret available")
}

func TestGetPassword(t *testing.T) {
	t.Setenv("AUTHSELECT_PASSWORD", "")
	assert.Equal(t, "flag", getPassword("flag", true, strings.NewReader("piped\n")))
	assert.Equal(t, "", getPassword("", false, strings.NewReader("piped\n")))
	assert.Equal(t, "piped", getPassword("", true, strings.NewReader("piped\n")))

	t.Setenv("AUTHSELECT_PASSWORD", "env")
	assert.Equal(t, "env", getPassword("", true, strings.NewReader("piped\n")))
}
