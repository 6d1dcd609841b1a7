// Package main defines the toolmesh CLI using kong.
package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/lipgloss"

	"github.com/hupe1980/toolmesh"
	"github.com/hupe1980/toolmesh/config"
)

// CLI defines the command-line interface.
type CLI struct {
	Config  string `short:"c" default:"toolmesh.yaml" type:"path" help:"Config file path"`
	Session string `short:"s" default:"default" help:"Session id"`

	Run     RunCmd     `cmd:"" help:"Plan and execute a request, print the merged report"`
	Plan    PlanCmd    `cmd:"" help:"Print the workers planned for a request"`
	Resolve ResolveCmd `cmd:"" help:"Resolve a file reference against the session's artifacts"`
	Version VersionCmd `cmd:"" help:"Show version information"`
}

// Globals is bound into every command's Run method.
type Globals struct {
	Ctx     context.Context
	Out     io.Writer
	Config  string
	Session string
	// open builds the façade; replaced in tests.
	open func(ctx context.Context, cfg *config.Config) (*toolmesh.ToolMesh, error)
}

func (g *Globals) mesh() (*toolmesh.ToolMesh, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, err
	}
	open := g.open
	if open == nil {
		open = func(ctx context.Context, cfg *config.Config) (*toolmesh.ToolMesh, error) {
			return toolmesh.New(ctx, cfg)
		}
	}
	return open(g.Ctx, cfg)
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	failureStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

// RunCmd executes a request.
type RunCmd struct {
	Request []string `arg:"" help:"User request"`
}

// Run implements the run command.
func (c *RunCmd) Run(g *Globals) error {
	mesh, err := g.mesh()
	if err != nil {
		return err
	}
	defer mesh.Close()

	report, err := mesh.Run(g.Ctx, g.Session, strings.Join(c.Request, " "))
	if report != nil {
		fmt.Fprintln(g.Out, titleStyle.Render("run "+report.RunID))
		fmt.Fprint(g.Out, report.Table())
		if len(report.Failures) > 0 {
			fmt.Fprintln(g.Out, failureStyle.Render(fmt.Sprintf("%d worker(s) failed", len(report.Failures))))
		}
	}
	return err
}

// PlanCmd prints the plan for a request.
type PlanCmd struct {
	Request []string `arg:"" help:"User request"`
}

// Run implements the plan command.
func (c *PlanCmd) Run(g *Globals) error {
	mesh, err := g.mesh()
	if err != nil {
		return err
	}
	defer mesh.Close()

	plan, err := mesh.Plan(g.Ctx, strings.Join(c.Request, " "))
	if err != nil {
		return err
	}
	if plan.Len() == 0 {
		fmt.Fprintln(g.Out, "no worker matches the request")
		return nil
	}
	for i, step := range plan.Steps() {
		fmt.Fprintf(g.Out, "%d. %s (tool %s)\n", i+1, step.Worker.Name, step.Worker.ToolID)
	}
	return nil
}

// ResolveCmd resolves a claimed file reference.
type ResolveCmd struct {
	Ref string `arg:"" help:"Claimed file reference"`
}

// Run implements the resolve command.
func (c *ResolveCmd) Run(g *Globals) error {
	mesh, err := g.mesh()
	if err != nil {
		return err
	}
	defer mesh.Close()

	resolved, err := mesh.ResolveReference(g.Ctx, g.Session, c.Ref)
	if err != nil {
		return err
	}
	fmt.Fprintln(g.Out, resolved)
	return nil
}

// VersionCmd shows version information.
type VersionCmd struct{}

// Run implements the version command.
func (c *VersionCmd) Run(g *Globals) error {
	fmt.Fprintf(g.Out, "toolmesh %s (commit %s)\n", version, commit)
	return nil
}

// kongVars returns variables for kong (version info).
func kongVars() kong.Vars {
	return kong.Vars{"version": version}
}
