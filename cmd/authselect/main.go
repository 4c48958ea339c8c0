// Command authselect lists the ways a client could authenticate to a
// service on a host and optionally acquires credentials for them.
//
// Password can be provided via:
//   - -pass flag (least secure, visible in process list)
//   - AUTHSELECT_PASSWORD environment variable (recommended)
//   - stdin prompt with -prompt
//
// Usage:
//
//	authselect -host <hostname> -service <service> [-user <name>] [flags]
//
// Examples:
//
//	# List guesses for an SMB server
//	authselect -host fileserver.example.com -service cifs -user alice
//
//	# Acquire every guess concurrently, then hold one by reference key
//	export AUTHSELECT_PASSWORD='secret'
//	authselect -host fileserver.example.com -service cifs -user alice \
//	    -acquire-all -hold krb5:alice@EXAMPLE.COM
//
//	# Probe a web server for its mechanisms and fetch a page with the first
//	# guess that works
//	authselect -host web.example.com -service HTTP -user 'CORP\alice' \
//	    -url https://web.example.com/ -probe -acquire 1
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/go-krb5/krb5/config"
	"github.com/olekukonko/tablewriter"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/smnsjas/go-authselect/authsel"
	"github.com/smnsjas/go-authselect/certs"
	"github.com/smnsjas/go-authselect/credstore"
	"github.com/smnsjas/go-authselect/internal/log"
	"github.com/smnsjas/go-authselect/kerberos"
	"github.com/smnsjas/go-authselect/mechhint"
	"github.com/smnsjas/go-authselect/transport"
)

// listFlag collects a repeatable string flag.
type listFlag []string

func (l *listFlag) String() string     { return strings.Join(*l, ",") }
func (l *listFlag) Set(v string) error { *l = append(*l, v); return nil }

type cliOptions struct {
	host, service, user, pass string
	prompt                    bool
	preferred                 string
	hintHost                  string
	mechs                     string
	negotiate                 string
	probe                     bool
	url                       string
	certFiles                 listFlag
	certPass                  string
	ccaches                   listFlag
	configPath                string
	krb5Conf                  string
	noDNS                     bool
	noNTLM                    bool
	peerDomain                string
	acquire                   int
	acquireAll                bool
	parallel                  int
	hold, unhold              listFlag
	labels                    listFlag
	release                   listFlag
	jsonOut                   bool
	insecure                  bool
	timeout                   time.Duration
	logLevel                  string
	logFormat                 string
	logFile                   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func parseFlags(args []string, stderr io.Writer) (*cliOptions, error) {
	o := &cliOptions{}
	fs := flag.NewFlagSet("authselect", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&o.host, "host", "", "Target hostname")
	fs.StringVar(&o.service, "service", "", "Target service (e.g. cifs, HTTP, afpserver)")
	fs.StringVar(&o.user, "user", "", `Username: bare, user@REALM or DOMAIN\user`)
	fs.StringVar(&o.pass, "pass", "", "Password (use AUTHSELECT_PASSWORD env var instead)")
	fs.BoolVar(&o.prompt, "prompt", false, "Prompt for the password on stdin")
	fs.StringVar(&o.preferred, "prefer", "", "Only keep guesses for this identity")
	fs.StringVar(&o.hintHost, "hint-host", "", "Hint name the server advertised")
	fs.StringVar(&o.mechs, "mechs", "", "Comma-separated advertised mechanisms (e.g. Kerberos,NTLM); empty = unknown")
	fs.StringVar(&o.negotiate, "negotiate", "", `WWW-Authenticate value to decode (e.g. "Negotiate YII...")`)
	fs.BoolVar(&o.probe, "probe", false, "Read advertised mechanisms from an unauthenticated request to -url")
	fs.StringVar(&o.url, "url", "", "URL to fetch with the acquired credential")
	fs.Var(&o.certFiles, "cert", "Client certificate file, PEM or PKCS#12 (repeatable)")
	fs.StringVar(&o.certPass, "cert-pass", "", "PKCS#12 passphrase")
	fs.Var(&o.ccaches, "ccache", "Kerberos credential cache to import (repeatable)")
	fs.StringVar(&o.configPath, "config", "", "YAML configuration file")
	fs.StringVar(&o.krb5Conf, "krb5conf", "", "Path to krb5.conf (default: KRB5_CONFIG or /etc/krb5.conf)")
	fs.BoolVar(&o.noDNS, "no-dns", false, "Disable DNS realm discovery")
	fs.BoolVar(&o.noNTLM, "no-ntlm", false, "Disable NTLM guesses")
	fs.StringVar(&o.peerDomain, "peer-domain", "", "DNS suffix of local peers")
	fs.IntVar(&o.acquire, "acquire", 0, "Acquire the credential of selection N (1-based)")
	fs.BoolVar(&o.acquireAll, "acquire-all", false, "Acquire every selection concurrently")
	fs.IntVar(&o.parallel, "parallel", 4, "Concurrent acquisitions for -acquire-all")
	fs.Var(&o.hold, "hold", "Add a hold by reference key (repeatable)")
	fs.Var(&o.unhold, "unhold", "Drop a hold by reference key (repeatable)")
	fs.Var(&o.labels, "label", "Hold and label a credential: key=label (repeatable)")
	fs.Var(&o.release, "release", "Release the credential carrying a label (repeatable)")
	fs.BoolVar(&o.jsonOut, "json", false, "Print selections as JSON")
	fs.BoolVar(&o.insecure, "insecure", false, "Skip TLS certificate verification (testing only)")
	fs.DurationVar(&o.timeout, "timeout", 30*time.Second, "Overall timeout")
	fs.StringVar(&o.logLevel, "loglevel", "", "Log level: debug, info, warn, error (empty = no logging)")
	fs.StringVar(&o.logFormat, "logformat", "text", "Log format: text or json")
	fs.StringVar(&o.logFile, "logfile", "", "Write logs to a rotating file instead of stderr")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if o.host == "" || o.service == "" {
		fs.Usage()
		return nil, errors.New("-host and -service are required")
	}
	if o.parallel < 1 {
		return nil, errors.New("-parallel must be at least 1")
	}
	return o, nil
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	o, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return 2
	}

	logger, closer, err := log.New(log.Options{Level: o.logLevel, Format: o.logFormat, File: o.logFile})
	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return 2
	}
	defer func() { _ = closer.Close() }()

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	if err := execute(ctx, o, stdin, stdout, logger); err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	return 0
}

func execute(ctx context.Context, o *cliOptions, stdin io.Reader, stdout io.Writer, logger *slog.Logger) error {
	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}

	store := credstore.New(credstore.WithLogger(logger))
	lib := kerberos.New(loadKrb5Conf(o.krb5Conf, logger), store, kerberos.WithLogger(logger))
	lib.RegisterAcquirers()
	for _, path := range o.ccaches {
		if _, err := lib.ImportCCache(path); err != nil {
			return err
		}
	}

	hints, err := buildHints(ctx, o, stdin, logger)
	if err != nil {
		return err
	}

	s, err := authsel.NewSession(ctx, o.host, o.service, hints,
		authsel.WithConfig(cfg),
		authsel.WithTicketLibrary(lib),
		authsel.WithCredentialStore(store),
		authsel.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	sels := s.Selections()
	switch {
	case o.acquireAll:
		acquireAll(ctx, sels, o.parallel, stdout)
	case o.acquire > 0:
		if o.acquire > len(sels) {
			return fmt.Errorf("-acquire %d: only %d selections", o.acquire, len(sels))
		}
		sel := sels[o.acquire-1]
		cred, err := sel.AcquireCredential(ctx, authsel.Secrets{})
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Acquired %s (%s)\n", cred.Name(), cred.Mech())
		if o.url != "" {
			if err := fetch(ctx, sel, cred, o, stdout, logger); err != nil {
				return err
			}
		}
	}

	if err := applyReferences(s.References(), o); err != nil {
		return err
	}

	if o.jsonOut {
		return printJSON(ctx, stdout, sels)
	}
	printTable(stdout, selectionRows(ctx, sels))
	return nil
}

func loadConfig(o *cliOptions) (authsel.Config, error) {
	cfg := authsel.DefaultConfig()
	if o.configPath != "" {
		var err error
		if cfg, err = authsel.LoadConfig(o.configPath); err != nil {
			return cfg, err
		}
	}
	if o.noDNS {
		cfg.EnableDNS = false
	}
	if o.noNTLM {
		cfg.EnableNTLM = false
	}
	if o.peerDomain != "" {
		cfg.PeerDomain = o.peerDomain
	}
	return cfg, cfg.Validate()
}

// loadKrb5Conf returns nil, an empty configuration, when no krb5.conf can
// be read.
func loadKrb5Conf(path string, logger *slog.Logger) *config.Config {
	cfg, err := kerberos.LoadConfig(path)
	if err != nil {
		logger.Info("continuing without krb5.conf", "error", err)
		return nil
	}
	return cfg
}

func buildHints(ctx context.Context, o *cliOptions, stdin io.Reader, logger *slog.Logger) (authsel.Hints, error) {
	hints := authsel.Hints{
		Username:          o.user,
		Password:          getPassword(o.pass, o.prompt, stdin),
		ServerHintHost:    o.hintHost,
		PreferredIdentity: o.preferred,
	}

	for _, path := range o.certFiles {
		loaded, err := certs.LoadFile(path, o.certPass)
		if err != nil {
			return hints, err
		}
		hints.Certificates = append(hints.Certificates, loaded...)
	}

	mechs, err := parseMechs(o.mechs)
	if err != nil {
		return hints, err
	}
	var adv mechhint.Advertisement
	switch {
	case o.negotiate != "":
		if adv, err = mechhint.FromHeader(o.negotiate); err != nil {
			return hints, err
		}
	case o.probe && o.url != "":
		if adv, err = probe(ctx, o, logger); err != nil {
			return hints, err
		}
	}
	if len(adv.Mechs) > 0 {
		for m, hint := range authsel.ServerMechsFrom(adv) {
			if mechs == nil {
				mechs = make(authsel.ServerMechs)
			}
			mechs[m] = hint
		}
		if hints.ServerHintHost == "" {
			hints.ServerHintHost = adv.HintName
		}
	}
	hints.ServerMechs = mechs
	return hints, nil
}

// parseMechs turns "Kerberos,NTLM" into a mechanism set. Empty means
// unknown.
func parseMechs(s string) (authsel.ServerMechs, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	sm := make(authsel.ServerMechs)
	for _, name := range strings.Split(s, ",") {
		m, ok := authsel.ParseMechanism(strings.TrimSpace(name))
		if !ok {
			return nil, fmt.Errorf("unknown mechanism %q", name)
		}
		sm[m] = nil
	}
	return sm, nil
}

// probe reads the authentication challenges of an unauthenticated request.
func probe(ctx context.Context, o *cliOptions, logger *slog.Logger) (mechhint.Advertisement, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.url, nil)
	if err != nil {
		return mechhint.Advertisement{}, err
	}
	client := transport.NewHTTPClient(nil, clientOptions(o, logger)...)
	resp, err := client.Do(req)
	if err != nil {
		return mechhint.Advertisement{}, fmt.Errorf("probe %s: %w", o.url, err)
	}
	_ = resp.Body.Close()
	return mechhint.FromHeaders(resp.Header), nil
}

func clientOptions(o *cliOptions, logger *slog.Logger) []transport.ClientOption {
	return []transport.ClientOption{
		transport.WithTimeout(o.timeout),
		transport.WithInsecureSkipVerify(o.insecure),
		transport.WithClientLogger(logger),
	}
}

func fetch(ctx context.Context, sel *authsel.Selection, cred *credstore.Credential, o *cliOptions, stdout io.Writer, logger *slog.Logger) error {
	url := o.url
	info, err := sel.AuthInfo(ctx)
	if err != nil {
		return err
	}
	a, err := transport.NewAuthenticator(info, cred, transport.WithLogger(logger))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	client := transport.NewHTTPClient(a, clientOptions(o, logger)...)
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	fmt.Fprintf(stdout, "%s %s: %s\n", a.Name(), url, resp.Status)
	return nil
}

func acquireAll(ctx context.Context, sels []*authsel.Selection, parallel int, stdout io.Writer) {
	results := make([]string, len(sels))
	var g errgroup.Group
	g.SetLimit(parallel)
	for i, sel := range sels {
		g.Go(func() error {
			cred, err := sel.AcquireCredential(ctx, authsel.Secrets{})
			if err != nil {
				// failures are per selection; report and keep going
				results[i] = "failed: " + err.Error()
				return nil
			}
			results[i] = "acquired " + cred.Name()
			return nil
		})
	}
	_ = g.Wait()
	for i, r := range results {
		fmt.Fprintf(stdout, "%d: %s\n", i+1, r)
	}
}

func applyReferences(refs *authsel.References, o *cliOptions) error {
	for _, key := range o.hold {
		if err := refs.Add(key); err != nil {
			return err
		}
	}
	for _, kv := range o.labels {
		key, label, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("-label %q: want key=label", kv)
		}
		if err := refs.AddAndLabel(key, label); err != nil {
			return err
		}
	}
	for _, label := range o.release {
		if err := refs.ReleaseByLabel(label); err != nil {
			return err
		}
	}
	for _, key := range o.unhold {
		if err := refs.Remove(key); err != nil {
			return err
		}
	}
	return nil
}

var tableHeaders = []string{"#", "Mechanism", "Client", "Server", "SPNEGO", "Credential", "Label"}

func selectionRows(ctx context.Context, sels []*authsel.Selection) [][]string {
	rows := make([][]string, 0, len(sels))
	for i, sel := range sels {
		n := strconv.Itoa(i + 1)
		info, err := sel.AuthInfo(ctx)
		if err != nil {
			rows = append(rows, []string{n, sel.Variant().Mechanism().String(), "-", "-", "-", err.Error(), ""})
			continue
		}
		have := "no"
		if info.HasCredential {
			have = "yes"
		}
		rows = append(rows, []string{
			n,
			info.Mechanism.String(),
			info.Client.Value,
			info.Server.Value,
			strconv.FormatBool(info.SPNEGO),
			have,
			info.Label,
		})
	}
	return rows
}

func printTable(w io.Writer, rows [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(tableHeaders)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	table.AppendBulk(rows)
	table.Render()
}

func printJSON(ctx context.Context, w io.Writer, sels []*authsel.Selection) error {
	out := make([]map[string]string, 0, len(sels))
	for _, sel := range sels {
		info, err := sel.AuthInfo(ctx)
		if err != nil {
			out = append(out, map[string]string{
				"mechanism": sel.Variant().Mechanism().String(),
				"error":     err.Error(),
			})
			continue
		}
		out = append(out, info.Map())
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// getPassword returns password from flag, env var, or prompts for it.
func getPassword(flagValue string, prompt bool, stdin io.Reader) string {
	if flagValue != "" {
		return flagValue
	}
	if envPass := os.Getenv("AUTHSELECT_PASSWORD"); envPass != "" {
		return envPass
	}
	if !prompt {
		return ""
	}

	fmt.Fprint(os.Stderr, "Password: ")
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		passBytes, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return ""
		}
		return string(passBytes)
	}

	// piped input: read one line
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && line == "" {
		return ""
	}
	return strings.TrimSpace(line)
}
