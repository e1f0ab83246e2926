package main

import (
	"context"
	"fmt"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/stardag/stardag/internal/cliconfig"
	"github.com/stardag/stardag/pkg/client"
)

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Log in to a registry and manage tokens",
	}
	cmd.AddCommand(newAuthLoginCmd())
	cmd.AddCommand(newAuthLogoutCmd())
	cmd.AddCommand(newAuthStatusCmd())
	cmd.AddCommand(newAuthRefreshCmd())
	return cmd
}

type loginFlags struct {
	registry      string
	url           string
	user          string
	tokenEndpoint string
	clientID      string
	refreshToken  string
	workspace     string
	environment   string
	profile       string
	setDefault    bool
}

func newAuthLoginCmd() *cobra.Command {
	var f loginFlags
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store credentials and create a profile for a registry",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogin(cmd.Context(), f)
		},
	}
	cmd.Flags().StringVar(&f.registry, "registry", "", "registry name (required)")
	cmd.Flags().StringVar(&f.url, "url", "", "registry base URL (required for a new registry)")
	cmd.Flags().StringVar(&f.user, "user", "", "user email (required)")
	cmd.Flags().StringVar(&f.tokenEndpoint, "token-endpoint", "", "OIDC token endpoint (discovered from the registry when omitted)")
	cmd.Flags().StringVar(&f.clientID, "client-id", "", "OIDC client id (discovered from the registry when omitted)")
	cmd.Flags().StringVar(&f.refreshToken, "refresh-token", "", "OIDC refresh token (required)")
	cmd.Flags().StringVar(&f.workspace, "workspace", "", "workspace id or slug (prompted when omitted)")
	cmd.Flags().StringVar(&f.environment, "environment", "", "environment id or slug (prompted when omitted)")
	cmd.Flags().StringVar(&f.profile, "profile", "", "profile name (defaults to the registry name)")
	cmd.Flags().BoolVar(&f.setDefault, "set-default", false, "make this the default profile")
	return cmd
}

func runLogin(ctx context.Context, f loginFlags) error {
	for _, required := range []struct{ name, value string }{
		{"--registry", f.registry},
		{"--user", f.user},
		{"--refresh-token", f.refreshToken},
	} {
		if required.value == "" {
			return usageErrorf("%s is required", required.name)
		}
	}

	m, err := newManager()
	if err != nil {
		return err
	}
	cfg, err := m.LoadConfig()
	if err != nil {
		return err
	}

	registry, known := cfg.Registries[f.registry]
	if f.url != "" {
		registry.URL = f.url
	} else if !known {
		return usageErrorf("registry %q is not configured; pass --url", f.registry)
	}
	cfg.Registries[f.registry] = registry

	if f.tokenEndpoint == "" || f.clientID == "" {
		ac, err := client.FetchAuthConfig(ctx, registry.URL)
		if err != nil {
			return fmt.Errorf("discover auth configuration: %w", err)
		}
		if f.clientID == "" {
			if ac.OIDCClientID == "" {
				return usageErrorf("registry %q advertises no OIDC client id; pass --client-id", f.registry)
			}
			f.clientID = ac.OIDCClientID
		}
		if f.tokenEndpoint == "" {
			if ac.OIDCIssuer == "" {
				return usageErrorf("registry %q advertises no OIDC issuer; pass --token-endpoint", f.registry)
			}
			f.tokenEndpoint, err = cliconfig.DiscoverTokenEndpoint(ctx, ac.OIDCIssuer)
			if err != nil {
				return err
			}
		}
	}

	creds := cliconfig.Credentials{
		TokenEndpoint: f.tokenEndpoint,
		ClientID:      f.clientID,
		RefreshToken:  f.refreshToken,
	}
	if err := m.SaveCredentials(f.registry, f.user, creds); err != nil {
		return err
	}

	oidcToken, _, err := cliconfig.RefreshAccessToken(ctx, creds)
	if err != nil {
		return fmt.Errorf("verify credentials: %w", err)
	}

	me, err := client.FetchMe(ctx, registry.URL, oidcToken)
	if err != nil {
		return fmt.Errorf("fetch profile: %w", err)
	}
	workspace, err := pickWorkspace(me.Workspaces, f.workspace)
	if err != nil {
		return err
	}

	exchanged, err := client.Exchange(ctx, registry.URL, oidcToken, workspace.ID)
	if err != nil {
		return err
	}
	if err := m.SaveAccessToken(f.registry, f.user, workspace.ID, cliconfig.CachedToken{
		AccessToken: exchanged.AccessToken,
		ExpiresAt:   timeNow().Add(secondsDuration(exchanged.ExpiresIn)),
	}); err != nil {
		return err
	}

	environments, err := client.ListEnvironments(ctx, registry.URL, exchanged.AccessToken, workspace.ID)
	if err != nil {
		return err
	}
	environment, err := pickEnvironment(environments, f.environment)
	if err != nil {
		return err
	}

	profileName := f.profile
	if profileName == "" {
		profileName = f.registry
	}
	cfg.Profiles[profileName] = cliconfig.Profile{
		Registry:      f.registry,
		User:          f.user,
		WorkspaceID:   workspace.ID,
		EnvironmentID: environment.ID,
	}
	if f.setDefault || cfg.DefaultProfile == "" {
		cfg.DefaultProfile = profileName
	}
	if err := m.SaveConfig(cfg); err != nil {
		return err
	}

	idCache, err := m.LoadIDCache()
	if err != nil {
		return err
	}
	idCache[workspace.Slug] = workspace.ID
	idCache[environment.Slug] = environment.ID
	if err := m.SaveIDCache(idCache); err != nil {
		return err
	}

	fmt.Printf("%s logged in to %s as %s\n", green("ok:"), bold(f.registry), f.user)
	fmt.Printf("    workspace   %s %s\n", workspace.Slug, gray(workspace.ID))
	fmt.Printf("    environment %s %s\n", environment.Slug, gray(environment.ID))
	fmt.Printf("    profile     %s\n", profileName)
	return nil
}

func pickWorkspace(workspaces []client.WorkspaceMembership, selector string) (client.WorkspaceMembership, error) {
	if len(workspaces) == 0 {
		return client.WorkspaceMembership{}, fmt.Errorf("you are not a member of any workspace")
	}
	if selector != "" {
		for _, ws := range workspaces {
			if ws.ID == selector || ws.Slug == selector {
				return ws, nil
			}
		}
		return client.WorkspaceMembership{}, usageErrorf("workspace %q not found among your %d workspace(s)", selector, len(workspaces))
	}
	if len(workspaces) == 1 {
		return workspaces[0], nil
	}
	labels := make([]string, len(workspaces))
	for i, ws := range workspaces {
		labels[i] = fmt.Sprintf("%s (%s)", ws.Slug, ws.Role)
	}
	prompt := promptui.Select{Label: "Workspace", Items: labels}
	idx, _, err := prompt.Run()
	if err != nil {
		return client.WorkspaceMembership{}, fmt.Errorf("workspace selection aborted: %w", err)
	}
	return workspaces[idx], nil
}

func pickEnvironment(environments []client.Environment, selector string) (client.Environment, error) {
	if len(environments) == 0 {
		return client.Environment{}, fmt.Errorf("the workspace has no environments")
	}
	if selector != "" {
		for _, env := range environments {
			if env.ID == selector || env.Slug == selector {
				return env, nil
			}
		}
		return client.Environment{}, usageErrorf("environment %q not found", selector)
	}
	if len(environments) == 1 {
		return environments[0], nil
	}
	labels := make([]string, len(environments))
	for i, env := range environments {
		labels[i] = env.Slug
	}
	prompt := promptui.Select{Label: "Environment", Items: labels}
	idx, _, err := prompt.Run()
	if err != nil {
		return client.Environment{}, fmt.Errorf("environment selection aborted: %w", err)
	}
	return environments[idx], nil
}

func newAuthLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove stored credentials for the active profile",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := newManager()
			if err != nil {
				return err
			}
			s, err := m.Resolve()
			if err != nil {
				return err
			}
			if s.ProfileName == "" {
				return fmt.Errorf("no active profile to log out of")
			}
			if err := m.DeleteCredentials(s.RegistryName, s.User); err != nil {
				return err
			}
			if err := m.DeleteAccessToken(s.RegistryName, s.User, s.WorkspaceID); err != nil {
				return err
			}
			fmt.Printf("%s logged out of %s\n", green("ok:"), s.RegistryName)
			return nil
		},
	}
}

func newAuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the active profile and cached token state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := newManager()
			if err != nil {
				return err
			}
			s, err := m.Resolve()
			if err != nil {
				return err
			}

			fmt.Printf("%s %s\n", bold("registry:"), s.RegistryURL)
			if s.APIKey != "" {
				fmt.Printf("%s api key (%s…)\n", bold("credential:"), s.APIKey[:min(8, len(s.APIKey))])
				return nil
			}
			fmt.Printf("%s %s\n", bold("profile:"), s.ProfileName)
			fmt.Printf("%s %s\n", bold("user:"), s.User)
			fmt.Printf("%s %s\n", bold("workspace:"), s.WorkspaceID)
			fmt.Printf("%s %s\n", bold("environment:"), s.EnvironmentID)

			if _, ok, _ := m.LoadCredentials(s.RegistryName, s.User); !ok {
				fmt.Println(yellow("credentials: missing; run `stardag auth login`"))
				return nil
			}
			fmt.Println(green("credentials: stored"))

			token, ok, err := m.LoadAccessToken(s.RegistryName, s.User, s.WorkspaceID, timeNow())
			if err != nil {
				return err
			}
			if ok {
				fmt.Printf("%s valid until %s\n", green("token:"), token.ExpiresAt.Local().Format("15:04:05"))
			} else {
				fmt.Println(gray("token: expired or absent (exchanged on next use)"))
			}
			return nil
		},
	}
}

func newAuthRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Force a new workspace token exchange",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := newManager()
			if err != nil {
				return err
			}
			s, err := m.Resolve()
			if err != nil {
				return err
			}
			if s.ProfileName == "" {
				return fmt.Errorf("refresh needs a profile; API keys do not expire")
			}
			if _, err := workspaceToken(cmd.Context(), m, s, true); err != nil {
				return err
			}
			fmt.Printf("%s fresh token cached for workspace %s\n", green("ok:"), s.WorkspaceID)
			return nil
		},
	}
}
