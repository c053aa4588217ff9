package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"appforge/internal/config"
	"appforge/internal/provider"
)

func providersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "Show configured providers and their recorded health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			var snapshots []provider.HealthSnapshot
			if cfg.Health.DBPath != "" {
				db, err := provider.OpenHealthStore(cfg.Health.DBPath)
				if err == nil {
					snapshots, _ = db.Load()
					db.Close()
				}
			}
			byName := make(map[string]provider.HealthSnapshot, len(snapshots))
			for _, s := range snapshots {
				byName[s.Provider] = s
			}

			for _, name := range providerOrder(cfg.Providers) {
				pc := cfg.Providers[name]
				fmt.Printf("PROVIDER: %s\n", name)
				fmt.Printf("  Model: %s\n", pc.Model)
				fmt.Printf("  Priority: %d\n", pc.Priority)
				fmt.Printf("  Budget: %d req/min, %d tokens/min\n", pc.RequestsPerMinute, pc.TokensPerMinute)
				if s, ok := byName[name]; ok {
					fmt.Printf("  Circuit: %s\n", s.Circuit)
					fmt.Printf("  Failure rate: %.0f%% over %d calls\n", s.FailureRate()*100, s.TotalCalls)
				}
			}
			return nil
		},
	}
}

// providerOrder lists provider names in fallback-chain order: ascending
// priority, then name. Matches how the gateway orders them.
func providerOrder(providers map[string]config.ProviderConfig) []string {
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		pi, pj := providers[names[i]].Priority, providers[names[j]].Priority
		if pi != pj {
			return pi < pj
		}
		return names[i] < names[j]
	})
	return names
}
