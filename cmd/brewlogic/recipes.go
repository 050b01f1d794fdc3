package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nerrad567/brewlogic/internal/recipe"
)

// errInvalidRecipes is returned by recipes validate when any recipe is rejected.
var errInvalidRecipes = errors.New("recipes file has invalid recipes")

func newRecipesCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recipes",
		Short: "Inspect the recipes file",
	}
	cmd.AddCommand(newRecipesValidateCmd(opts), newRecipesListCmd(opts))
	return cmd
}

func newRecipesValidateCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Check every recipe in a recipes file",
		Long: `Parses the recipes file (the configured one when no file is given) and
reports each recipe that would be skipped at load time.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := recipesPath(opts, args)
			if err != nil {
				return err
			}

			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading recipes file: %w", err)
			}
			recipes, problems, err := recipe.Parse(data)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, p := range problems {
				fmt.Fprintf(out, "invalid: %v\n", p)
			}
			fmt.Fprintf(out, "%s: %d valid, %d invalid\n", path, len(recipes), len(problems))
			if len(problems) > 0 {
				return errInvalidRecipes
			}
			return nil
		},
	}
}

func newRecipesListCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list [file]",
		Short: "List the valid recipes in a recipes file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := recipesPath(opts, args)
			if err != nil {
				return err
			}

			recipes, err := recipe.NewFileStore(path, false).List(cmd.Context())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tNAME\tSTEPS\tACTIVATORS")
			for _, r := range recipes {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", r.Key, r.Name, len(r.Steps), strings.Join(r.EntityIDs(), ","))
			}
			return tw.Flush()
		},
	}
}

// recipesPath returns the file argument, or the configured recipes file.
func recipesPath(opts *globalOptions, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return "", err
	}
	return cfg.Recipes.File, nil
}
