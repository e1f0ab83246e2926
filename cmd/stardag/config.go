package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stardag/stardag/internal/cliconfig"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and edit registries, profiles, and target roots",
	}
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigRegistryCmd())
	cmd.AddCommand(newConfigProfileCmd())
	cmd.AddCommand(newConfigTargetRootsCmd())
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := newManager()
			if err != nil {
				return err
			}
			cfg, err := m.LoadConfig()
			if err != nil {
				return err
			}

			fmt.Printf("%s %s\n", bold("config:"), m.Root())
			if cfg.DefaultProfile != "" {
				fmt.Printf("%s %s\n", bold("default profile:"), cfg.DefaultProfile)
			}

			fmt.Println(bold("registries:"))
			for _, name := range cfg.RegistryNames() {
				fmt.Printf("    %s  %s\n", cyan(name), cfg.Registries[name].URL)
			}
			if len(cfg.Registries) == 0 {
				fmt.Println(gray("    (none)"))
			}

			fmt.Println(bold("profiles:"))
			for _, name := range cfg.ProfileNames() {
				p := cfg.Profiles[name]
				marker := " "
				if name == cfg.DefaultProfile {
					marker = green("*")
				}
				fmt.Printf("  %s %s  registry=%s user=%s workspace=%s environment=%s\n",
					marker, cyan(name), p.Registry, p.User, p.WorkspaceID, p.EnvironmentID)
			}
			if len(cfg.Profiles) == 0 {
				fmt.Println(gray("    (none)"))
			}

			if s, err := m.Resolve(); err == nil {
				fmt.Printf("%s %s", bold("resolved:"), s.RegistryURL)
				if s.APIKey != "" {
					fmt.Print(yellow(" (via API key)"))
				}
				fmt.Println()
			}
			return nil
		},
	}
}

func newConfigRegistryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Manage named registries",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "add NAME URL",
		Short: "Add or update a registry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return updateConfig(func(cfg *cliconfig.Config) error {
				cfg.Registries[args[0]] = cliconfig.Registry{URL: args[1]}
				fmt.Printf("%s registry %s -> %s\n", green("ok:"), args[0], args[1])
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := newManager()
			if err != nil {
				return err
			}
			cfg, err := m.LoadConfig()
			if err != nil {
				return err
			}
			for _, name := range cfg.RegistryNames() {
				fmt.Printf("%s  %s\n", cyan(name), cfg.Registries[name].URL)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "remove NAME",
		Short: "Remove a registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return updateConfig(func(cfg *cliconfig.Config) error {
				if _, ok := cfg.Registries[args[0]]; !ok {
					return usageErrorf("registry %q not found", args[0])
				}
				for name, p := range cfg.Profiles {
					if p.Registry == args[0] {
						return fmt.Errorf("registry %q is used by profile %q; remove the profile first", args[0], name)
					}
				}
				delete(cfg.Registries, args[0])
				fmt.Printf("%s removed registry %s\n", green("ok:"), args[0])
				return nil
			})
		},
	})
	return cmd
}

func newConfigProfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage profiles",
	}

	var (
		registry    string
		user        string
		workspace   string
		environment string
	)
	add := &cobra.Command{
		Use:   "add NAME",
		Short: "Add or update a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if registry == "" || user == "" || workspace == "" || environment == "" {
				return usageErrorf("--registry, --user, --workspace and --environment are required")
			}
			return updateConfig(func(cfg *cliconfig.Config) error {
				if _, ok := cfg.Registries[registry]; !ok {
					return usageErrorf("registry %q not found; add it with `stardag config registry add`", registry)
				}
				cfg.Profiles[args[0]] = cliconfig.Profile{
					Registry:      registry,
					User:          user,
					WorkspaceID:   workspace,
					EnvironmentID: environment,
				}
				if cfg.DefaultProfile == "" {
					cfg.DefaultProfile = args[0]
				}
				fmt.Printf("%s profile %s saved\n", green("ok:"), args[0])
				return nil
			})
		},
	}
	add.Flags().StringVar(&registry, "registry", "", "registry name")
	add.Flags().StringVar(&user, "user", "", "user email")
	add.Flags().StringVar(&workspace, "workspace", "", "workspace id")
	add.Flags().StringVar(&environment, "environment", "", "environment id")
	cmd.AddCommand(add)

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List profiles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := newManager()
			if err != nil {
				return err
			}
			cfg, err := m.LoadConfig()
			if err != nil {
				return err
			}
			for _, name := range cfg.ProfileNames() {
				p := cfg.Profiles[name]
				marker := " "
				if name == cfg.DefaultProfile {
					marker = green("*")
				}
				fmt.Printf("%s %s  %s@%s ws=%s env=%s\n", marker, cyan(name), p.User, p.Registry, p.WorkspaceID, p.EnvironmentID)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "use NAME",
		Short: "Set the default profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return updateConfig(func(cfg *cliconfig.Config) error {
				if _, ok := cfg.Profiles[args[0]]; !ok {
					return usageErrorf("profile %q not found", args[0])
				}
				cfg.DefaultProfile = args[0]
				fmt.Printf("%s default profile is now %s\n", green("ok:"), args[0])
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "remove NAME",
		Short: "Remove a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return updateConfig(func(cfg *cliconfig.Config) error {
				if _, ok := cfg.Profiles[args[0]]; !ok {
					return usageErrorf("profile %q not found", args[0])
				}
				delete(cfg.Profiles, args[0])
				if cfg.DefaultProfile == args[0] {
					cfg.DefaultProfile = ""
				}
				fmt.Printf("%s removed profile %s\n", green("ok:"), args[0])
				return nil
			})
		},
	})
	return cmd
}

func newConfigTargetRootsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "target-roots",
		Short: "Inspect and sync target roots for the active scope",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Show the effective target roots (cache plus env overrides)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := newManager()
			if err != nil {
				return err
			}
			s, err := m.Resolve()
			if err != nil {
				return err
			}
			roots, err := m.TargetRoots(s.RegistryName, s.WorkspaceID, s.EnvironmentID)
			if err != nil {
				return err
			}
			if len(roots) == 0 {
				fmt.Println(gray("no target roots cached; run `stardag config target-roots sync`"))
				return nil
			}
			for _, name := range roots.Names() {
				fmt.Printf("%s  %s\n", cyan(name), roots[name])
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "sync",
		Short: "Fetch the environment's target roots from the registry",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := newManager()
			if err != nil {
				return err
			}
			s, err := m.Resolve()
			if err != nil {
				return err
			}
			c, err := sdkClient(m, s)
			if err != nil {
				return err
			}
			fetched, err := c.TargetRoots(cmd.Context())
			if err != nil {
				return err
			}
			roots := make(map[string]string, len(fetched))
			for _, tr := range fetched {
				roots[tr.Name] = tr.URI
			}
			if err := m.SaveTargetRoots(s.RegistryName, s.WorkspaceID, s.EnvironmentID, roots); err != nil {
				return err
			}
			fmt.Printf("%s synced %d target root(s)\n", green("ok:"), len(roots))
			return nil
		},
	})
	return cmd
}

// updateConfig loads the config file, applies fn, and saves it back when fn
// succeeds.
func updateConfig(fn func(cfg *cliconfig.Config) error) error {
	m, err := newManager()
	if err != nil {
		return err
	}
	cfg, err := m.LoadConfig()
	if err != nil {
		return err
	}
	if err := fn(&cfg); err != nil {
		return err
	}
	return m.SaveConfig(cfg)
}
