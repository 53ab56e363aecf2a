// Command lms is a CLI client for the LMS session API.
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
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/and161185/lms-auth/internal/client"
)

// ---- transport ----

func loadTLS(caPath string, insecure bool) (*tls.Config, error) {
	if insecure {
		return &tls.Config{InsecureSkipVerify: true}, nil //nolint:gosec // explicit dev flag
	}
	if caPath == "" {
		return nil, nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

func httpClient(caPath string, insecure bool, timeout time.Duration) (*http.Client, error) {
	tc, err := loadTLS(caPath, insecure)
	if err != nil {
		return nil, err
	}
	hc := &http.Client{Timeout: timeout}
	if tc != nil {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.TLSClientConfig = tc
		hc.Transport = tr
	}
	return hc, nil
}

// ---- utils ----

// readSecret returns v, or the first line of stdin when v is "-".
func readSecret(v string, stdin io.Reader) (string, error) {
	if v != "-" {
		return v, nil
	}
	b, err := io.ReadAll(io.LimitReader(stdin, 4096))
	if err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(string(b), "\n")
	return strings.TrimRight(line, "\r"), nil
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func usage(w io.Writer) {
	fmt.Fprintf(w, `lms CLI
Usage:
  lms [-addr URL] [-cacert file | -insecure] <cmd> [args]

Commands:
  version
  register   -u <username> -p <password|-> [-role student|instructor]
  login      -u <username> -p <password|->      (saves session)
  me
  passwd     -old <password> -new <password>
  refresh
  logout
  get        <path>                              (authorized GET, prints JSON)
`)
}

var errUsage = errors.New("usage")

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

type env struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	// configDir holds session.json; empty selects client.DefaultConfigDir.
	configDir string
}

// main dispatches subcommands against the session API.
func main() {
	e := env{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}
	if err := run(context.Background(), os.Args[1:], e); err != nil {
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		fail(e.stderr, err)
	}
}

func run(ctx context.Context, args []string, e env) error {
	gfs := flag.NewFlagSet("lms", flag.ContinueOnError)
	gfs.SetOutput(e.stderr)
	addr := gfs.String("addr", envOr("LMS_ADDR", "http://localhost:8080"), "server base URL")
	caPath := gfs.String("cacert", "", "CA cert (PEM)")
	insecure := gfs.Bool("insecure", false, "skip cert verify (dev)")
	timeout := gfs.Duration("timeout", 30*time.Second, "request timeout")
	gfs.Usage = func() { usage(e.stderr) }
	if err := gfs.Parse(args); err != nil {
		return errUsage
	}
	if gfs.NArg() < 1 {
		usage(e.stderr)
		return errUsage
	}
	cmd, rest := gfs.Arg(0), gfs.Args()[1:]

	if cmd == "version" {
		fmt.Fprintf(e.stdout, "lms %s (%s)\n", version, buildDate)
		return nil
	}

	hc, err := httpClient(*caPath, *insecure, *timeout)
	if err != nil {
		return err
	}
	dir := e.configDir
	if dir == "" {
		dir = client.DefaultConfigDir()
	}
	c, err := client.New(*addr, client.Options{
		HTTPClient: hc,
		Store:      client.NewFileTokenStore(dir),
		OnLogout: func(error) {
			fmt.Fprintln(e.stderr, "session expired, please login again")
		},
	})
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	switch cmd {
	case "register":
		fs := flag.NewFlagSet("register", flag.ContinueOnError)
		fs.SetOutput(e.stderr)
		u := fs.String("u", "", "username")
		p := fs.String("p", "", "password, - reads stdin")
		role := fs.String("role", "", "student (default) or instructor")
		if err := fs.Parse(rest); err != nil {
			return errUsage
		}
		pw, err := readSecret(*p, e.stdin)
		if err != nil {
			return err
		}
		if *u == "" || pw == "" {
			return errors.New("need -u and -p")
		}
		if err := c.Register(ctx, *u, pw, *role); err != nil {
			return err
		}
		fmt.Fprintln(e.stdout, "ok")

	case "login":
		fs := flag.NewFlagSet("login", flag.ContinueOnError)
		fs.SetOutput(e.stderr)
		u := fs.String("u", "", "username")
		p := fs.String("p", "", "password, - reads stdin")
		if err := fs.Parse(rest); err != nil {
			return errUsage
		}
		pw, err := readSecret(*p, e.stdin)
		if err != nil {
			return err
		}
		if *u == "" || pw == "" {
			return errors.New("need -u and -p")
		}
		if err := c.Login(ctx, *u, pw); err != nil {
			return err
		}
		fmt.Fprintf(e.stdout, "ok, access token valid until %s\n", c.ExpiresAt().Local().Format(time.RFC3339))

	case "me":
		p, err := c.Me(ctx)
		if err != nil {
			return err
		}
		printJSON(e.stdout, p)

	case "passwd":
		fs := flag.NewFlagSet("passwd", flag.ContinueOnError)
		fs.SetOutput(e.stderr)
		oldPw := fs.String("old", "", "current password")
		newPw := fs.String("new", "", "new password")
		if err := fs.Parse(rest); err != nil {
			return errUsage
		}
		if *oldPw == "" || *newPw == "" {
			return errors.New("need -old and -new")
		}
		if err := c.ChangePassword(ctx, *oldPw, *newPw); err != nil {
			return err
		}
		fmt.Fprintln(e.stdout, "ok")

	case "refresh":
		if err := c.Refresh(ctx); err != nil {
			return err
		}
		fmt.Fprintf(e.stdout, "ok, access token valid until %s\n", c.ExpiresAt().Local().Format(time.RFC3339))

	case "logout":
		if err := c.Logout(ctx); err != nil {
			return err
		}
		fmt.Fprintln(e.stdout, "ok")

	case "get":
		if len(rest) != 1 {
			return errors.New("need <path>")
		}
		var out json.RawMessage
		if err := c.Do(ctx, http.MethodGet, rest[0], nil, &out); err != nil {
			return err
		}
		printJSON(e.stdout, out)

	default:
		usage(e.stderr)
		return errUsage
	}
	return nil
}

// ---- helpers ----

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func fail(w io.Writer, err error) {
	var ae *client.APIError
	switch {
	case errors.Is(err, client.ErrSessionExpired):
		fmt.Fprintln(w, "session expired, please login again")
	case errors.As(err, &ae):
		fmt.Fprintf(w, "http error: status=%d msg=%s\n", ae.Status, ae.Message)
	default:
		fmt.Fprintln(w, err)
	}
	os.Exit(1)
}
