// Package secret resolves the dashboard API key from the environment, an
// Azure Key Vault or a hidden terminal prompt.
package secret

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
	"golang.org/x/term"

	"github.com/merakimate/merakimate/pkg/util"
)

// EnvAPIKey is the environment variable holding the API key.
const EnvAPIKey = "MERAKI_API_KEY"

// EnvOpenAIKey holds the key of the optional log classifier.
const EnvOpenAIKey = "OPENAI_API_KEY"

// ErrNoSecret is returned when no source produced a value.
var ErrNoSecret = errors.New("no secret available")

// Source yields a secret. An empty value with a nil error means the source
// has nothing to offer and the next one should be tried.
type Source interface {
	Name() string
	Secret(ctx context.Context) (string, error)
}

// Env reads a secret from an environment variable.
type Env struct {
	Var    string
	Lookup func(string) (string, bool)
}

func (e Env) Name() string { return "env:" + e.Var }

func (e Env) Secret(context.Context) (string, error) {
	lookup := e.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	v, _ := lookup(e.Var)
	return strings.TrimSpace(v), nil
}

// Getter is the Key Vault call used by Vault. *azsecrets.Client implements it.
type Getter interface {
	GetSecret(ctx context.Context, name, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error)
}

var _ Getter = (*azsecrets.Client)(nil)

// Vault reads the latest version of a Key Vault secret.
type Vault struct {
	vault  string
	secret string
	client Getter
}

// VaultURL is the endpoint of a vault name in the public cloud.
func VaultURL(vault string) string {
	return "https://" + vault + ".vault.azure.net"
}

// NewVault authenticates with the default Azure credential chain.
func NewVault(vault, secretName string) (*Vault, error) {
	if vault == "" || secretName == "" {
		return nil, fmt.Errorf("key vault and secret name are required: %w", util.ErrInvalidConfig)
	}
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("azure credential: %w", err)
	}
	client, err := azsecrets.NewClient(VaultURL(vault), cred, nil)
	if err != nil {
		return nil, fmt.Errorf("key vault client: %w", err)
	}
	return NewVaultWithClient(vault, secretName, client), nil
}

// NewVaultWithClient uses an existing client.
func NewVaultWithClient(vault, secretName string, client Getter) *Vault {
	return &Vault{vault: vault, secret: secretName, client: client}
}

func (v *Vault) Name() string { return "keyvault:" + v.vault + "/" + v.secret }

func (v *Vault) Secret(ctx context.Context) (string, error) {
	resp, err := v.client.GetSecret(ctx, v.secret, "", nil)
	if err != nil {
		return "", fmt.Errorf("reading %s from %s: %w", v.secret, v.vault, err)
	}
	if resp.Value == nil {
		return "", nil
	}
	return strings.TrimSpace(*resp.Value), nil
}

// Prompt asks for the secret without echo when input is a terminal, and
// reads one line otherwise.
type Prompt struct {
	Label string
	In    *os.File
	Out   io.Writer
}

func (p Prompt) Name() string { return "prompt" }

func (p Prompt) Secret(context.Context) (string, error) {
	in, out := p.In, p.Out
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stderr
	}
	label := p.Label
	if label == "" {
		label = "Enter your Meraki API Key: "
	}
	fmt.Fprint(out, label)

	if fd := int(in.Fd()); term.IsTerminal(fd) {
		data, err := term.ReadPassword(fd)
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("reading secret: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading secret: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// Resolve tries sources in order and returns the first non-empty secret with
// the name of its source. Source errors are logged and the next source is tried.
func Resolve(ctx context.Context, sources ...Source) (string, string, error) {
	var errs []error
	for _, s := range sources {
		if s == nil {
			continue
		}
		v, err := s.Secret(ctx)
		if err != nil {
			util.WithField("source", s.Name()).Warnf("Secret source unavailable: %v", err)
			errs = append(errs, err)
			continue
		}
		if v != "" {
			util.WithField("source", s.Name()).Debug("Secret resolved")
			return v, s.Name(), nil
		}
	}
	return "", "", errors.Join(append([]error{ErrNoSecret}, errs...)...)
}
