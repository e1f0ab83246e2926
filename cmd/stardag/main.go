// Command stardag is the workstation CLI: login and token management,
// registry and profile configuration, and target-root syncing.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/stardag/stardag/internal/cliconfig"
	"github.com/stardag/stardag/pkg/client"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// usageError marks argument problems so main can exit 2 instead of 1.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func usageErrorf(format string, args ...any) error {
	return usageError{msg: fmt.Sprintf(format, args...)}
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, red("error: ")+err.Error())
		var ue usageError
		if errors.As(err, &ue) || strings.Contains(err.Error(), "unknown command") ||
			strings.Contains(err.Error(), "accepts") || strings.Contains(err.Error(), "required flag") {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "stardag",
		Short:         "Stardag build-tracking CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newAuthCmd())
	root.AddCommand(newConfigCmd())
	return root
}

func newManager() (*cliconfig.Manager, error) {
	return cliconfig.NewManager(cliconfig.Options{})
}

// sdkClient builds a registry client from the resolved settings: an API key
// when one is set, otherwise a profile-backed exchanged token.
func sdkClient(m *cliconfig.Manager, s cliconfig.Settings) (*client.Client, error) {
	var creds client.Credentials
	if s.APIKey != "" {
		creds = client.APIKey(s.APIKey)
	} else {
		if s.ProfileName == "" {
			return nil, fmt.Errorf("no API key and no profile; run `stardag auth login` first")
		}
		creds = client.NewExchangedToken(func(ctx context.Context, force bool) (string, error) {
			return workspaceToken(ctx, m, s, force)
		})
	}
	return client.New(client.Config{
		BaseURL:       s.RegistryURL,
		Credentials:   creds,
		EnvironmentID: s.EnvironmentID,
	})
}

// workspaceToken returns a cached internal token for the profile, minting a
// new one through the OIDC refresh + exchange path when needed.
func workspaceToken(ctx context.Context, m *cliconfig.Manager, s cliconfig.Settings, force bool) (string, error) {
	if !force {
		cached, ok, err := m.LoadAccessToken(s.RegistryName, s.User, s.WorkspaceID, timeNow())
		if err != nil {
			return "", err
		}
		if ok {
			return cached.AccessToken, nil
		}
	}
	creds, ok, err := m.LoadCredentials(s.RegistryName, s.User)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("no credentials for %s on %s; run `stardag auth login`", s.User, s.RegistryName)
	}
	oidcToken, _, err := cliconfig.RefreshAccessToken(ctx, creds)
	if err != nil {
		return "", err
	}
	exchanged, err := client.Exchange(ctx, s.RegistryURL, oidcToken, s.WorkspaceID)
	if err != nil {
		return "", err
	}
	cachedToken := cliconfig.CachedToken{
		AccessToken: exchanged.AccessToken,
		ExpiresAt:   timeNow().Add(secondsDuration(exchanged.ExpiresIn)),
	}
	if err := m.SaveAccessToken(s.RegistryName, s.User, s.WorkspaceID, cachedToken); err != nil {
		return "", err
	}
	return exchanged.AccessToken, nil
}

func timeNow() time.Time { return time.Now() }

func secondsDuration(s int) time.Duration { return time.Duration(s) * time.Second }
