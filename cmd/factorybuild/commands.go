package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/factory-twin/backend/internal/app"
	"github.com/factory-twin/backend/internal/models"
	"github.com/factory-twin/backend/internal/parser"
	"github.com/factory-twin/backend/internal/pipeline"
	"github.com/factory-twin/backend/internal/storage"
)

func runEncode(ctx context.Context, env *cliEnv, args []string) error {
	fs := subFlags(env, "encode", "-project NAME FILE")
	projectFlag := fs.String("project", "", "Project name (defaults to the manifest's project).")
	if err := parseSub(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return &ExitError{Code: 2, Message: "encode needs exactly one layout file"}
	}
	path := fs.Arg(0)

	p, err := parser.GetGlobalRegistry().FindParser(path)
	if err != nil {
		return err
	}

	// Manifests are encoded as written; other sources go through a layout.
	var m *models.Manifest
	if p.Name() == "manifest" {
		if m, err = parser.ParseManifest(path); err != nil {
			return err
		}
	} else {
		layout, warnings, err := p.Parse(ctx, path)
		if err != nil {
			return err
		}
		printWarnings(env, warnings)
		m = parser.LayoutToManifest(*projectFlag, layout)
	}

	name := *projectFlag
	if name == "" {
		if strings.TrimSpace(m.Project) == "" {
			return &ExitError{Code: 2, Message: "encode: -project is required when the file names no project"}
		}
		name = models.Slug(m.Project)
	}
	project, err := pipeline.NewProject(env.cfg.GetDataDir(), name)
	if err != nil {
		return err
	}

	layout, warnings, err := pipeline.Encode(ctx, project, m)
	if err != nil {
		return err
	}
	printWarnings(env, warnings)
	fmt.Fprintf(env.out, "encoded %s: %d entities, %d connections\n", project.Name, len(layout.Entities), len(layout.Connections))
	fmt.Fprintf(env.out, "  drawing:  %s\n  manifest: %s\n", project.DXFPath(), project.ManifestPath())
	return nil
}

func runBuild(ctx context.Context, env *cliEnv, args []string) error {
	fs := subFlags(env, "build", "[-publish] PROJECT")
	publishFlag := fs.Bool("publish", false, "Upload the scene to the configured bucket.")
	if err := parseSub(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return &ExitError{Code: 2, Message: "build needs exactly one project"}
	}

	if !*publishFlag {
		env.cfg.Publish.Bucket = ""
	}
	a, err := app.New(ctx, env.cfg, env.logger)
	if err != nil {
		return err
	}
	defer a.Close()

	m := a.NewManager(ctx)
	defer m.Close()
	// an interrupt cancels the run, which then reports an error event
	stopOnSignal := context.AfterFunc(ctx, m.Close)
	defer stopOnSignal()

	run, err := m.StartRun(fs.Arg(0))
	if err != nil {
		return err
	}
	events, unsubscribe, err := m.Subscribe(run.ID)
	if err != nil {
		return err
	}
	defer unsubscribe()

	lastStage := ""
	for ev := range events {
		if ev.Stage != lastStage && !ev.Status.Terminal() {
			fmt.Fprintf(env.errOut, "[%3.0f%%] %s\n", ev.Progress, ev.Stage)
			lastStage = ev.Stage
		}
	}
	m.Wait()

	final, _ := m.GetRun(run.ID)
	if final.Status == models.RunStatusError {
		return fmt.Errorf("build failed: %s", final.Error)
	}

	printWarnings(env, final.Warnings)
	tw := tabwriter.NewWriter(env.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENTITY\tSLUG\tSTATUS\tATTEMPTS")
	for _, o := range final.Outcomes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", o.EntityID, o.Slug, o.Status, o.Attempts)
	}
	tw.Flush()
	fmt.Fprintf(env.out, "scene: %s\n", final.ScenePath)
	if final.PublishedTo != "" {
		fmt.Fprintf(env.out, "published: %s\n", final.PublishedTo)
	}
	return nil
}

func runInspect(ctx context.Context, env *cliEnv, args []string) error {
	fs := subFlags(env, "inspect", "[-snapshot OUT.msgpack] FILE")
	snapshotFlag := fs.String("snapshot", "", "Also write the layout as a msgpack snapshot.")
	if err := parseSub(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return &ExitError{Code: 2, Message: "inspect needs exactly one file"}
	}

	p, err := parser.GetGlobalRegistry().FindParser(fs.Arg(0))
	if err != nil {
		return err
	}
	layout, warnings, err := p.Parse(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	printWarnings(env, warnings)

	kinds := map[models.EntityKind]int{}
	for _, e := range layout.Entities {
		kinds[e.Kind]++
	}
	classes := map[models.ConnectionClass]int{}
	for _, c := range layout.Connections {
		classes[c.Class]++
	}

	fmt.Fprintf(env.out, "format:      %s\n", p.Name())
	fmt.Fprintf(env.out, "floor:       %.0f x %.0f centred at (%.0f, %.0f)\n", layout.Width, layout.Height, layout.Center.X, layout.Center.Y)
	fmt.Fprintf(env.out, "entities:    %d (machines %d, ports %d, labels %d)\n",
		len(layout.Entities), kinds[models.EntityMachine], kinds[models.EntityPort], kinds[models.EntityText])
	var parts []string
	for _, cls := range []models.ConnectionClass{models.ClassPiping, models.ClassTransport, models.ClassAGV, models.ClassGeneric} {
		if n := classes[cls]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s %d", strings.ToLower(cls.String()), n))
		}
	}
	fmt.Fprintf(env.out, "connections: %d (%s)\n", len(layout.Connections), strings.Join(parts, ", "))

	if *snapshotFlag != "" {
		f, err := os.Create(*snapshotFlag)
		if err != nil {
			return err
		}
		if err := parser.WriteSnapshot(f, layout); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Fprintf(env.out, "snapshot:    %s\n", *snapshotFlag)
	}
	return nil
}

func runCache(ctx context.Context, env *cliEnv, args []string) error {
	fs := subFlags(env, "cache", "[-clear] [-all] [SLUG...]")
	clearFlag := fs.Bool("clear", false, "Remove the named slugs from the cache.")
	allFlag := fs.Bool("all", false, "With -clear, remove every cached mesh.")
	if err := parseSub(fs, args); err != nil {
		return err
	}

	cache, err := storage.NewMeshCache(env.cfg.Storage.CacheDirectory)
	if err != nil {
		return err
	}

	switch {
	case *clearFlag && *allFlag:
		n, err := cache.ClearAll()
		if err != nil {
			return err
		}
		fmt.Fprintf(env.out, "cleared %d cached meshes\n", n)
	case *clearFlag:
		if fs.NArg() == 0 {
			return &ExitError{Code: 2, Message: "cache -clear needs slugs or -all"}
		}
		for _, slug := range fs.Args() {
			if err := cache.Clear(slug); err != nil {
				return err
			}
			fmt.Fprintf(env.out, "cleared %s\n", models.Slug(slug))
		}
	default:
		slugs, err := cache.Slugs()
		if err != nil {
			return err
		}
		for _, s := range slugs {
			fmt.Fprintln(env.out, s)
		}
	}
	return nil
}

func printWarnings(env *cliEnv, warnings []string) {
	for _, w := range warnings {
		fmt.Fprintf(env.errOut, "warning: %s\n", w)
	}
}
