package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kanblam/kanblam/internal/core"
	"github.com/kanblam/kanblam/internal/store"
)

var projectsCmd = &cobra.Command{
	Use:     "projects",
	Short:   "Manage registered projects",
	Aliases: []string{"project"},
	Long: `kanblam manages tasks for one project at a time, but remembers every
project it has opened in ~/.kanblam/config.json. Use 'kanblam projects
add' to register a repository before opening the board against it, or
'kanblam projects list' to see what's already registered.`,
}

var addProjectCmd = &cobra.Command{
	Use:   "add [path]",
	Short: "Register a repository as a kanblam project",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAddProject,
}

var listProjectsCmd = &cobra.Command{
	Use:     "list",
	Short:   "List registered projects",
	Aliases: []string{"ls"},
	RunE:    runListProjects,
}

func init() {
	projectsCmd.AddCommand(addProjectCmd)
	projectsCmd.AddCommand(listProjectsCmd)
	rootCmd.AddCommand(projectsCmd)
}

func runAddProject(_ *cobra.Command, args []string) error {
	path := "."
	if len(args) == 1 {
		path = args[0]
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}
	if _, err := os.Stat(abs); err != nil {
		return fmt.Errorf("project path %s: %w", abs, err)
	}

	ctx := context.Background()
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolving home directory: %w", err)
	}
	st := store.New(home)

	project, err := resolveProject(ctx, st, abs)
	if err != nil {
		return fmt.Errorf("registering project: %w", err)
	}
	fmt.Printf("registered %s (%s) at %s\n", project.Name, project.ID, project.Path)
	return nil
}

func runListProjects(_ *cobra.Command, _ []string) error {
	ctx := context.Background()
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolving home directory: %w", err)
	}
	st := store.New(home)

	reg, err := st.LoadRegistry(ctx)
	if err != nil {
		return fmt.Errorf("loading registry: %w", err)
	}
	if len(reg.Projects) == 0 {
		fmt.Println("no projects registered")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tDEFAULT\tPATH")
	for _, p := range reg.Projects {
		isDefault := ""
		if p.ID == reg.DefaultProject {
			isDefault = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.ID, p.Name, statusLabel(p), isDefault, p.Path)
	}
	return w.Flush()
}

func statusLabel(p *core.Project) string {
	if p.Status == "" {
		return string(core.StatusProjectInitializing)
	}
	return string(p.Status)
}
