// Command oaimirror is the operator CLI for the harvester.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// Config keys, bound to flags and OAIMIRROR_* environment variables.
const (
	keyAddr      = "addr"
	keyToken     = "token"
	keyCACert    = "cacert"
	keyInsecure  = "insecure"
	keyPlaintext = "plaintext"
	keyTimeout   = "timeout"
	keyLocal     = "local"
	keyDSN       = "dsn"
	keyConfig    = "config"
	keyHTTPAddr  = "http-addr"
	keyVerbose   = "verbose"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("OAIMIRROR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "oaimirror",
		Short: "Operate the OAI-PMH mirror",
		Long: `oaimirror triggers harvest passes on a running oaimirror-server (default)
or runs them directly against the database (--local).`,
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.String(keyAddr, "localhost:8443", "server gRPC address")
	pf.String(keyToken, "", "bearer token (default: saved token)")
	pf.String(keyCACert, "", "CA cert (PEM)")
	pf.Bool(keyInsecure, false, "skip cert verify (dev)")
	pf.Bool(keyPlaintext, false, "connect without TLS")
	pf.Duration(keyTimeout, 30*time.Minute, "overall command timeout")
	pf.Bool(keyLocal, false, "run against the database instead of the server")
	pf.String(keyDSN, "", "PostgreSQL DSN (--local)")
	pf.String(keyConfig, "", "YAML configuration file")
	pf.String(keyHTTPAddr, "http://localhost:8080", "server status URL")
	pf.BoolP(keyVerbose, "v", false, "log harvest progress (--local)")
	_ = v.BindPFlags(pf)

	root.AddCommand(
		newVersionCmd(),
		newSyncCmd(v),
		newListCmd(v, "sets", "Refresh the set hierarchy of a source", func(ctx context.Context, b *backend, id string) (any, error) {
			res, err := b.SynchronizeSets(ctx, id)
			if err != nil {
				return nil, err
			}
			return res, nil
		}),
		newListCmd(v, "formats", "Refresh the metadata formats of a source", func(ctx context.Context, b *backend, id string) (any, error) {
			res, err := b.SynchronizeFormats(ctx, id)
			if err != nil {
				return nil, err
			}
			return res, nil
		}),
		newCleanupCmd(v),
		newFingerprintCmd(),
		newStatusCmd(v),
		newTokenCmd(v),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "oaimirror %s (%s)\n", version, buildDate)
		},
	}
}

// ---- token store ----

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "oaimirror")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "oaimirror")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveToken(tok string, exp time.Time) error {
	_ = os.MkdirAll(cfgDir(), 0o700)
	f, err := os.OpenFile(tokenPath(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tokenFile{AccessToken: tok, ExpiresAt: exp})
}

func loadToken() (string, error) {
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return "", err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return "", errors.New("no valid token (run `oaimirror token --save`)")
	}
	return tf.AccessToken, nil
}

// bearer returns the explicit token or the saved one.
func bearer(v *viper.Viper) string {
	if t := v.GetString(keyToken); t != "" {
		return t
	}
	t, _ := loadToken()
	return t
}

// ---- grpc dial ----

func loadTLS(caPath string, skipVerify, plaintext bool) (credentials.TransportCredentials, error) {
	switch {
	case plaintext:
		return insecure.NewCredentials(), nil
	case skipVerify:
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil
	case caPath == "":
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

func dial(v *viper.Viper) (*grpc.ClientConn, error) {
	creds, err := loadTLS(v.GetString(keyCACert), v.GetBool(keyInsecure), v.GetBool(keyPlaintext))
	if err != nil {
		return nil, err
	}
	return grpc.NewClient(v.GetString(keyAddr), grpc.WithTransportCredentials(creds))
}

// ---- utils ----

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newLogger(v *viper.Viper) *zap.Logger {
	if !v.GetBool(keyVerbose) {
		return zap.NewNop()
	}
	log, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

func withTimeout(cmd *cobra.Command, v *viper.Viper) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if d := v.GetDuration(keyTimeout); d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}
