package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"sales-assistant/internal/catalog"
	"sales-assistant/internal/common/logger"
	"sales-assistant/internal/embedding"
	"sales-assistant/internal/intent"
	"sales-assistant/internal/models"
)

func newCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the template catalog",
	}
	cmd.AddCommand(newCatalogCheckCmd())
	return cmd
}

func newCatalogCheckCmd() *cobra.Command {
	var probes []string

	cmd := &cobra.Command{
		Use:   "check [catalog.json]",
		Short: "Validate a catalog and list its templates",
		Long: `check validates a catalog document (the built-in catalog when no file is given)
against the catalog schema and the integrity rules applied at startup, then lists
its templates. Each --probe question is matched against the catalog with the local
hashing embedder and the best scores are printed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			cat, err := loadCatalog(path)
			if err != nil {
				pterm.Error.Println(err.Error())
				return fmt.Errorf("catalog is invalid")
			}

			name := path
			if name == "" {
				name = "built-in catalog"
			}
			pterm.Success.Printfln("%s: version %d, %d templates", name, cat.Version(), cat.Len())
			if err := pterm.DefaultTable.WithHasHeader().WithData(templateRows(cat)).Render(); err != nil {
				return err
			}

			if len(probes) == 0 {
				return nil
			}
			matcher, err := intent.NewMatcher(cmd.Context(), cat, embedding.NewHashingEmbedder(0),
				intent.Config{AcceptanceThreshold: 0.55, TopK: 3}, logger.NewNoOpLogger())
			if err != nil {
				return err
			}
			for _, q := range probes {
				m, err := matcher.Match(cmd.Context(), q, 3)
				if err != nil {
					return err
				}
				pterm.Println()
				pterm.Println(pterm.NewStyle(pterm.FgLightCyan, pterm.Bold).Sprint(q))
				for _, s := range m.Candidates {
					pterm.Printfln("  %.3f  %s", s.Score, s.Template.ID)
				}
				if !m.Confident() {
					pterm.Warning.Println("no template passes the acceptance threshold")
				}
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&probes, "probe", nil, "question to match against the catalog (repeatable)")
	return cmd
}

func templateRows(cat *catalog.Catalog) [][]string {
	rows := [][]string{{"ID", "Subject", "Parameters", "Upgrades"}}
	for _, t := range cat.All() {
		params := make([]string, len(t.Parameters))
		for i, p := range t.Parameters {
			params[i] = describeParameter(p)
		}

		upgrades := make([]string, 0, len(t.Upgrades))
		for typ, id := range t.Upgrades {
			upgrades = append(upgrades, string(typ)+"→"+id)
		}
		sort.Strings(upgrades)

		rows = append(rows, []string{t.ID, t.Subject, strings.Join(params, ", "), strings.Join(upgrades, ", ")})
	}
	return rows
}

func describeParameter(p models.Parameter) string {
	s := p.Name + ":" + string(p.Type)
	if p.Default != "" {
		if _, err := strconv.Atoi(p.Default); err == nil {
			return s + "=" + p.Default
		}
		return s + "=" + strconv.Quote(p.Default)
	}
	return s
}
