// Command bl is a CLI client for the BloodLink service.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/and161185/bloodlink/internal/api"
	"github.com/and161185/bloodlink/internal/eligibility"
)

// ---- config/token store ----

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	UserID      string    `json:"user_id"`
	Role        string    `json:"role"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "bloodlink")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "bloodlink")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveToken(tf tokenFile) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(tokenPath(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tf)
}

func loadToken() (tokenFile, error) {
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return tokenFile{}, err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return tokenFile{}, err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return tokenFile{}, errors.New("no valid token (login required)")
	}
	return tf, nil
}

// bearer returns the saved token, or "" so the call proceeds anonymously.
func bearer() string {
	tf, err := loadToken()
	if err != nil {
		return ""
	}
	return tf.AccessToken
}

func mustBearer() string {
	tf, err := loadToken()
	if err != nil {
		fail(err)
	}
	return tf.AccessToken
}

// ---- grpc dial ----

type bearerCreds struct {
	token  string
	secure bool
}

func (b bearerCreds) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + b.token}, nil
}
func (b bearerCreds) RequireTransportSecurity() bool { return b.secure }

// conn holds the global connection flags.
type conn struct {
	addr      string
	caPath    string
	insecure  bool
	plaintext bool
}

func loadTLS(caPath string, insecure bool) (credentials.TransportCredentials, error) {
	if insecure {
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil
	}
	if caPath == "" {
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil
}

func (c conn) dial(bearer string) (*grpc.ClientConn, *api.Client, error) {
	var creds credentials.TransportCredentials
	if c.plaintext {
		creds = insecure.NewCredentials()
	} else {
		var err error
		if creds, err = loadTLS(c.caPath, c.insecure); err != nil {
			return nil, nil, err
		}
	}
	opts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if bearer != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(bearerCreds{token: bearer, secure: !c.plaintext}))
	}
	cc, err := grpc.NewClient(c.addr, opts...)
	if err != nil {
		return nil, nil, err
	}
	return cc, api.NewClient(cc), nil
}

// ---- utils ----

var stdout io.Writer = os.Stdout

func printJSON(v any) {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func usage() {
	fmt.Fprintf(os.Stderr, `bl CLI
Usage:
  bl -addr HOST:PORT [-cacert file | -insecure | -plaintext] <cmd> [args]

Commands:
  version
  register        -u <username> -p <password> [-role donor|requester]
  login           -u <username> -p <password>        (saves token)
  submit          -patient -blood -units -hospital -location -urgency -needed-by -contact -phone [-notes]
  status          -code <tracking code>
  match           -code <tracking code> [-blood] [-location]
  eligibility     -donor <id> [-viewed-social]
  reveal          -donor <id> [-viewed-social]
  social          -donor <id>                          (opens and records the view)
  profile         [-name] [-blood] [-location] [-phone] [-social]
  availability    -on | -off
  verify          -request <id> -rx <ref> -bag <ref> [-donor <id>]
  confirm         -proof <id>                          (operator)
  reject          -proof <id>                          (operator)
  set-status      -request <id> -status <STATUS>       (operator)
  verify-account  -user <id> [-revoke]                 (operator)
  record-donation -donor <id> [-date YYYY-MM-DD]       (operator)
  rate            -donor <id> -score 1..5
  event-create    -title -location -starts [-inactive] (operator)
  event-active    -event <id> -on | -off               (operator)
  events
  impact
  watch           [-tables a,b] [-ws ws://host/feed]
`)
	os.Exit(2)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

// main dispatches subcommands and configures TLS/auth for RPC calls.
func main() {
	// global flags
	var c conn
	flag.StringVar(&c.addr, "addr", "localhost:8443", "server addr")
	flag.StringVar(&c.caPath, "cacert", "", "CA cert (PEM)")
	flag.BoolVar(&c.insecure, "insecure", false, "skip cert verify (dev)")
	flag.BoolVar(&c.plaintext, "plaintext", false, "no TLS (dev server without certificates)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd, args := flag.Arg(0), flag.Args()[1:]
	if cmd == "version" {
		fmt.Printf("bl %s (%s)\n", version, buildDate)
		return
	}
	run, ok := commands[cmd]
	if !ok {
		usage()
	}
	if err := run(c, args); err != nil {
		fail(err)
	}
}

// ---- helpers ----

var (
	errColor    = color.New(color.FgRed, color.Bold)
	remedyColor = color.New(color.FgYellow)
	okColor     = color.New(color.FgGreen)
)

// describe renders an RPC error, adding the remedy for gate denials.
func describe(err error) (msg, remedy string) {
	if info, ok := api.ParseError(err); ok {
		msg = info.Code
		if info.Reason != "" {
			msg += " (" + info.Reason + ")"
		}
		msg += ": " + info.Detail
		return msg, eligibility.Reason(info.Reason).Remedy()
	}
	if s, ok := status.FromError(err); ok {
		return fmt.Sprintf("rpc error: code=%s msg=%s", s.Code(), s.Message()), ""
	}
	return err.Error(), ""
}

func fail(err error) {
	msg, remedy := describe(err)
	errColor.Fprintln(os.Stderr, msg)
	if remedy != "" {
		remedyColor.Fprintln(os.Stderr, "  -> "+remedy)
	}
	os.Exit(1)
}
