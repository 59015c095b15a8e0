package core

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barysiuk/extkit/internal/core/marker"
	"github.com/barysiuk/extkit/internal/core/skill"
	"github.com/barysiuk/extkit/internal/core/source"
	"github.com/barysiuk/extkit/internal/core/system"
)

const (
	myCommitSkill = "---\nname: aif-commit\ndescription: Signed commits\n---\n# Commit\n\nAlways sign off.\n"
	greetSkill    = "---\nname: hello-greet\n---\n# Greet\n"
)

func helloCommitFiles(version string) map[string]string {
	return map[string]string{
		"extension.json": `{
			"name": "hello-commit",
			"version": "` + version + `",
			"skills": ["skills/my-commit", "skills/greet"],
			"replaces": {"skills/my-commit": "aif-commit"},
			"injections": [{"target": "aif-plan", "position": "append", "file": "inject/plan.md"}],
			"serverConfigs": [{"key": "hello-db", "template": "mcp/db.json", "instruction": "Set DATABASE_URL"}]
		}`,
		"skills/my-commit/SKILL.md": myCommitSkill,
		"skills/greet/SKILL.md":     greetSkill,
		"inject/plan.md":            "Mention hello-commit in every plan.\n",
		"mcp/db.json":               `{"command": "db-server", "args": ["--stdio"]}`,
	}
}

// replacingFiles builds an extension that replaces each given base id with
// a skill whose body names the extension.
func replacingFiles(name, version string, ids ...string) map[string]string {
	files := map[string]string{}
	var replaces []string
	for _, id := range ids {
		files["skills/"+id+"/SKILL.md"] = "---\nname: " + id + "\n---\n# " + name + " " + id + "\n"
		replaces = append(replaces, `"skills/`+id+`": "`+id+`"`)
	}
	files["extension.json"] = `{"name": "` + name + `", "version": "` + version + `", "replaces": {` + strings.Join(replaces, ", ") + `}}`
	return files
}

type fixture struct {
	t       *testing.T
	project string
	r       *Reconciler
	catalog *skill.FSCatalog
}

func newFixture(t *testing.T, wrap func(SkillInstaller) SkillInstaller) *fixture {
	t.Helper()
	project := t.TempDir()
	targets, err := system.Targets([]string{"claude-code", "cursor"}, project)
	require.NoError(t, err)

	log := slog.New(slog.DiscardHandler)
	catalog := skill.Embedded()
	var installer SkillInstaller = skill.NewInstaller(catalog)
	if wrap != nil {
		installer = wrap(installer)
	}

	r := NewReconciler(Options{
		ProjectDir: project,
		Targets:    targets,
		Installer:  installer,
		Catalog:    catalog,
		Resolver:   source.NewResolver(log),
		Logger:     log,
	})
	_, err = r.Update()
	require.NoError(t, err)
	return &fixture{t: t, project: project, r: r, catalog: catalog}
}

func (f *fixture) extension(files map[string]string) string {
	dir := f.t.TempDir()
	writeFiles(f.t, dir, files)
	return dir
}

func (f *fixture) install(files map[string]string) *Report {
	f.t.Helper()
	rep, err := f.r.Install(context.Background(), f.extension(files))
	require.NoError(f.t, err)
	return rep
}

func (f *fixture) read(t system.Target, id string) string {
	f.t.Helper()
	data, err := os.ReadFile(t.BehaviorPath(id))
	require.NoError(f.t, err)
	return string(data)
}

func (f *fixture) base(id string) string {
	f.t.Helper()
	fsys, err := f.catalog.FS(id)
	require.NoError(f.t, err)
	data, err := fs.ReadFile(fsys, system.SkillFile)
	require.NoError(f.t, err)
	return string(data)
}

func (f *fixture) state() *State {
	f.t.Helper()
	st, err := f.r.Store().Load()
	require.NoError(f.t, err)
	return st
}

// snapshot maps every file under the project to its content.
func (f *fixture) snapshot() map[string]string {
	f.t.Helper()
	out := map[string]string{}
	err := filepath.WalkDir(f.project, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(f.project, p)
		out[rel] = string(data)
		return nil
	})
	require.NoError(f.t, err)
	return out
}

// markersOf counts the marker blocks owned by ext across the project.
func (f *fixture) markersOf(ext string) int {
	n := 0
	for _, content := range f.snapshot() {
		for _, b := range marker.Blocks(content) {
			if b.Tag.Extension == ext {
				n++
			}
		}
	}
	return n
}

func (f *fixture) assertExclusiveOwnership() {
	f.t.Helper()
	owners := map[string]string{}
	for _, rec := range f.state().Extensions {
		for _, id := range rec.OwnedReplacements {
			prev, dup := owners[id]
			assert.False(f.t, dup, "%s owned by both %s and %s", id, prev, rec.Name)
			owners[id] = rec.Name
		}
	}
}

// flakyInstaller fails InstallFrom for the listed "agent/id" pairs.
type flakyInstaller struct {
	SkillInstaller
	fail map[string]bool
}

func (fi *flakyInstaller) InstallFrom(t system.Target, id, srcDir string) error {
	if fi.fail[t.Name()+"/"+id] {
		return errors.New("disk full")
	}
	return fi.SkillInstaller.InstallFrom(t, id, srcDir)
}

func TestInstallRemove_HelloCommit(t *testing.T) {
	f := newFixture(t, nil)

	rep := f.install(helloCommitFiles("1.0.0"))
	assert.Equal(t, ChangeNew, rep.Change)
	assert.Equal(t, PhaseDone, rep.Phase)
	assert.False(t, rep.Degraded(), "steps: %+v", rep.Steps)
	assert.NotEmpty(t, rep.ID)

	require.Len(t, f.r.Targets(), 2)
	for _, tg := range f.r.Targets() {
		assert.Equal(t, myCommitSkill, f.read(tg, "aif-commit"), tg.Name())
		assert.Equal(t, greetSkill, f.read(tg, "hello-greet"), tg.Name())

		blocks := marker.Blocks(f.read(tg, "aif-plan"))
		require.Len(t, blocks, 1, tg.Name())
		assert.Equal(t, marker.Tag{Extension: "hello-commit", Target: "aif-plan", Position: marker.Append}, blocks[0].Tag)
	}

	rec := f.state().Find("hello-commit")
	require.NotNil(t, rec)
	assert.Equal(t, "1.0.0", rec.Version)
	assert.Equal(t, []string{"aif-commit"}, rec.OwnedReplacements)
	assert.Equal(t, []string{"hello-greet"}, rec.Behaviors)
	assert.Equal(t, []string{"hello-db"}, rec.ServerConfigs)
	assert.True(t, strings.HasPrefix(rec.Checksum, "h1:"), rec.Checksum)

	for _, cfg := range []string{".mcp.json", filepath.Join(".cursor", "mcp.json")} {
		data, err := os.ReadFile(filepath.Join(f.project, cfg))
		require.NoError(t, err)
		assert.Contains(t, string(data), `"hello-db"`, cfg)
	}

	_, err := f.r.Remove("hello-commit")
	require.NoError(t, err)

	for _, tg := range f.r.Targets() {
		assert.Equal(t, f.base("aif-commit"), f.read(tg, "aif-commit"), tg.Name())
		assert.Equal(t, f.base("aif-plan"), f.read(tg, "aif-plan"), tg.Name())
		assert.NoDirExists(t, tg.BehaviorDir("hello-greet"))
	}
	assert.Nil(t, f.state().Find("hello-commit"))
	assert.Zero(t, f.markersOf("hello-commit"))
	assert.NoDirExists(t, f.r.Storage().Dir("hello-commit"))

	for _, cfg := range []string{".mcp.json", filepath.Join(".cursor", "mcp.json")} {
		data, err := os.ReadFile(filepath.Join(f.project, cfg))
		require.NoError(t, err)
		assert.NotContains(t, string(data), "hello-db", cfg)
	}
}

func TestInstall_ConflictLeavesEverythingUntouched(t *testing.T) {
	f := newFixture(t, nil)
	f.install(replacingFiles("ext-a", "1.0.0", "aif-commit"))

	before := f.snapshot()
	rep, err := f.r.Install(context.Background(), f.extension(replacingFiles("ext-b", "1.0.0", "aif-review", "aif-commit")))
	require.Error(t, err)
	assert.True(t, IsConflictError(err), "got %v", err)
	assert.Equal(t, PhaseValidating, rep.Phase)

	assert.Equal(t, before, f.snapshot())
	assert.Nil(t, f.state().Find("ext-b"))
}

func TestInstall_ResolutionFailureTouchesNothing(t *testing.T) {
	f := newFixture(t, nil)
	before := f.snapshot()

	_, err := f.r.Install(context.Background(), "./no/such/extension")
	require.Error(t, err)
	_, ok := source.IsResolutionError(err)
	assert.True(t, ok, "got %T", err)

	assert.Equal(t, before, f.snapshot())
}

func TestInstall_PartialAgentRollback(t *testing.T) {
	f := newFixture(t, func(in SkillInstaller) SkillInstaller {
		return &flakyInstaller{SkillInstaller: in, fail: map[string]bool{"cursor/aif-commit": true}}
	})

	rep := f.install(replacingFiles("ext-a", "1.0.0", "aif-commit", "aif-review"))

	for _, tg := range f.r.Targets() {
		assert.Equal(t, f.base("aif-commit"), f.read(tg, "aif-commit"), tg.Name())
		assert.Contains(t, f.read(tg, "aif-review"), "# ext-a aif-review", tg.Name())
	}

	rec := f.state().Find("ext-a")
	require.NotNil(t, rec)
	assert.Equal(t, []string{"aif-review"}, rec.OwnedReplacements)

	require.Len(t, rep.Partial, 1)
	assert.Equal(t, "aif-commit", rep.Partial[0].Behavior)
	assert.Equal(t, []string{"claude-code"}, rep.Partial[0].Succeeded)
	assert.Equal(t, []string{"cursor"}, rep.Partial[0].Failed)

	rolled := rep.Filter(StatusRolledBack)
	require.Len(t, rolled, 1)
	assert.Equal(t, "claude-code", rolled[0].Agent)
	assert.True(t, rep.Degraded())
}

func TestReinstall_FailedStoreReinstatesPrevious(t *testing.T) {
	f := newFixture(t, nil)
	f.install(helloCommitFiles("1.0.0"))

	next := helloCommitFiles("2.0.0")
	next["skills/my-commit/SKILL.md"] = "---\nname: aif-commit\n---\n# Commit v2\n"
	failStagedRenames(t)

	rep, err := f.r.Install(context.Background(), f.extension(next))
	require.Error(t, err)
	assert.Equal(t, PhaseInstalling, rep.Phase)
	assert.NotEmpty(t, rep.Filter(StatusRolledBack))

	for _, tg := range f.r.Targets() {
		assert.Equal(t, myCommitSkill, f.read(tg, "aif-commit"), tg.Name())
		assert.Equal(t, greetSkill, f.read(tg, "hello-greet"), tg.Name())
		blocks := marker.Blocks(f.read(tg, "aif-plan"))
		require.Len(t, blocks, 1, tg.Name())
		assert.Equal(t, "hello-commit", blocks[0].Tag.Extension)
	}

	rec := f.state().Find("hello-commit")
	require.NotNil(t, rec)
	assert.Equal(t, "1.0.0", rec.Version)
	assert.Equal(t, []string{"aif-commit"}, rec.OwnedReplacements)
	assert.Equal(t, []string{"hello-greet"}, rec.Behaviors)
	assert.Equal(t, []string{"hello-db"}, rec.ServerConfigs)
	f.assertExclusiveOwnership()

	m, err := f.r.Storage().Manifest("hello-commit")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", m.Version)
}

func TestReinstall_FailedStoreWithoutManifestFallsBackToBase(t *testing.T) {
	f := newFixture(t, nil)
	f.install(replacingFiles("ext-a", "1.0.0", "aif-commit"))
	require.NoError(t, os.Remove(filepath.Join(f.r.Storage().Dir("ext-a"), "extension.json")))
	failStagedRenames(t)

	_, err := f.r.Install(context.Background(), f.extension(replacingFiles("ext-a", "2.0.0", "aif-commit")))
	require.Error(t, err)

	for _, tg := range f.r.Targets() {
		assert.Equal(t, f.base("aif-commit"), f.read(tg, "aif-commit"), tg.Name())
	}
	rec := f.state().Find("ext-a")
	require.NotNil(t, rec)
	assert.Empty(t, rec.OwnedReplacements)
}

func TestInstall_CustomBehaviorFailsOnOneAgent(t *testing.T) {
	f := newFixture(t, func(in SkillInstaller) SkillInstaller {
		return &flakyInstaller{SkillInstaller: in, fail: map[string]bool{"cursor/hello-greet": true}}
	})

	f.install(helloCommitFiles("1.0.0"))

	for _, tg := range f.r.Targets() {
		assert.NoDirExists(t, tg.BehaviorDir("hello-greet"))
	}
	rec := f.state().Find("hello-commit")
	require.NotNil(t, rec)
	assert.Empty(t, rec.Behaviors)
	assert.Equal(t, []string{"aif-commit"}, rec.OwnedReplacements)
}

func TestInstall_CustomBehaviorShadowingBaseRejected(t *testing.T) {
	f := newFixture(t, nil)
	before := f.snapshot()

	_, err := f.r.Install(context.Background(), f.extension(map[string]string{
		"extension.json":      `{"name": "sneaky", "version": "1.0.0", "skills": ["skills/aif"]}`,
		"skills/aif/SKILL.md": "---\nname: aif\n---\n# Not the base\n",
	}))
	assert.True(t, IsConflictError(err), "got %v", err)
	assert.Equal(t, before, f.snapshot())
}

func TestReinstall_ReleasesDroppedReplacement(t *testing.T) {
	f := newFixture(t, nil)
	f.install(replacingFiles("ext-a", "1.0.0", "aif-commit", "aif-review"))

	rep := f.install(replacingFiles("ext-a", "1.1.0", "aif-commit"))
	assert.Equal(t, ChangeUpgrade, rep.Change)
	assert.Equal(t, "1.0.0", rep.PreviousVersion)

	for _, tg := range f.r.Targets() {
		assert.Contains(t, f.read(tg, "aif-commit"), "# ext-a aif-commit")
		assert.Equal(t, f.base("aif-review"), f.read(tg, "aif-review"))
	}
	rec := f.state().Find("ext-a")
	require.NotNil(t, rec)
	assert.Equal(t, "1.1.0", rec.Version)
	assert.Equal(t, []string{"aif-commit"}, rec.OwnedReplacements)
}

func TestReinstall_InjectionsAppliedOnce(t *testing.T) {
	f := newFixture(t, nil)
	f.install(helloCommitFiles("1.0.0"))
	f.install(helloCommitFiles("1.0.0"))

	for _, tg := range f.r.Targets() {
		assert.Len(t, marker.Blocks(f.read(tg, "aif-plan")), 1)
	}
	assert.Len(t, f.state().Extensions, 1)
}

func TestInstall_ReappliesOtherExtensionsInjections(t *testing.T) {
	f := newFixture(t, nil)
	f.install(map[string]string{
		"extension.json": `{"name": "notes", "version": "1.0.0",
			"injections": [{"target": "aif-commit", "position": "append", "file": "note.md"}]}`,
		"note.md": "Reference the ticket id.\n",
	})
	f.install(replacingFiles("ext-a", "1.0.0", "aif-commit"))

	for _, tg := range f.r.Targets() {
		content := f.read(tg, "aif-commit")
		assert.True(t, strings.HasPrefix(content, "---\nname: aif-commit\n---\n# ext-a aif-commit\n"), content)
		blocks := marker.Blocks(content)
		require.Len(t, blocks, 1)
		assert.Equal(t, "notes", blocks[0].Tag.Extension)
	}

	_, err := f.r.Remove("ext-a")
	require.NoError(t, err)
	for _, tg := range f.r.Targets() {
		content := f.read(tg, "aif-commit")
		assert.True(t, strings.HasPrefix(content, f.base("aif-commit")))
		assert.Len(t, marker.Blocks(content), 1)
	}
}

func TestUpdate_RestoresWhenManifestMissing(t *testing.T) {
	f := newFixture(t, nil)
	f.install(replacingFiles("ext-a", "1.0.0", "aif-commit"))
	require.NoError(t, os.Remove(filepath.Join(f.r.Storage().Dir("ext-a"), "extension.json")))

	rep, err := f.r.Update()
	require.NoError(t, err)
	assert.NotZero(t, rep.Count(StatusWarning))

	for _, tg := range f.r.Targets() {
		assert.Equal(t, f.base("aif-commit"), f.read(tg, "aif-commit"), tg.Name())
	}
	rec := f.state().Find("ext-a")
	require.NotNil(t, rec)
	assert.Empty(t, rec.OwnedReplacements)
}

func TestUpdate_ReleasesUndeclaredReplacement(t *testing.T) {
	f := newFixture(t, nil)
	f.install(replacingFiles("ext-a", "1.0.0", "aif-commit", "aif-plan"))

	// Rewrite the durable manifest so it no longer declares aif-plan.
	writeFiles(t, f.r.Storage().Dir("ext-a"), map[string]string{
		"extension.json": `{"name": "ext-a", "version": "1.0.0", "replaces": {"skills/aif-commit": "aif-commit"}}`,
	})

	_, err := f.r.Update()
	require.NoError(t, err)
	for _, tg := range f.r.Targets() {
		assert.Contains(t, f.read(tg, "aif-commit"), "# ext-a aif-commit")
		assert.Equal(t, f.base("aif-plan"), f.read(tg, "aif-plan"))
	}
	assert.Equal(t, []string{"aif-commit"}, f.state().Find("ext-a").OwnedReplacements)
}

func TestUpdate_PartialReplacementFallsBackToBase(t *testing.T) {
	fail := map[string]bool{}
	f := newFixture(t, func(in SkillInstaller) SkillInstaller {
		return &flakyInstaller{SkillInstaller: in, fail: fail}
	})
	f.install(replacingFiles("ext-a", "1.0.0", "aif-commit"))
	for _, tg := range f.r.Targets() {
		require.Contains(t, f.read(tg, "aif-commit"), "# ext-a aif-commit", tg.Name())
	}

	fail["cursor/aif-commit"] = true
	rep, err := f.r.Update()
	require.NoError(t, err)
	assert.True(t, rep.Degraded())

	require.Len(t, rep.Partial, 1)
	assert.Equal(t, []string{"claude-code"}, rep.Partial[0].Succeeded)
	assert.Equal(t, []string{"cursor"}, rep.Partial[0].Failed)

	for _, tg := range f.r.Targets() {
		assert.Equal(t, f.base("aif-commit"), f.read(tg, "aif-commit"), tg.Name())
	}
	rec := f.state().Find("ext-a")
	require.NotNil(t, rec)
	assert.Empty(t, rec.OwnedReplacements)
	assert.Equal(t, "", f.state().OwnerOf("aif-commit"))
}

func TestUpdate_KeepsReplacementsAndInjections(t *testing.T) {
	f := newFixture(t, nil)
	f.install(helloCommitFiles("1.0.0"))

	rep, err := f.r.Update()
	require.NoError(t, err)
	assert.False(t, rep.Degraded(), "steps: %+v", rep.Steps)

	for _, tg := range f.r.Targets() {
		assert.Equal(t, myCommitSkill, f.read(tg, "aif-commit"))
		assert.Len(t, marker.Blocks(f.read(tg, "aif-plan")), 1)
		assert.Equal(t, f.base("aif-review"), f.read(tg, "aif-review"))
	}
	st := f.state()
	assert.ElementsMatch(t, f.catalog.IDs(), st.Agents["cursor"].Behaviors)
}

func TestRemove_WithoutManifestStripsByName(t *testing.T) {
	f := newFixture(t, nil)
	f.install(helloCommitFiles("1.0.0"))
	require.NoError(t, os.Remove(filepath.Join(f.r.Storage().Dir("hello-commit"), "extension.json")))

	rep, err := f.r.Remove("hello-commit")
	require.NoError(t, err)
	assert.NotZero(t, rep.Count(StatusWarning))

	assert.Zero(t, f.markersOf("hello-commit"))
	for _, tg := range f.r.Targets() {
		assert.Equal(t, f.base("aif-commit"), f.read(tg, "aif-commit"))
		assert.Equal(t, f.base("aif-plan"), f.read(tg, "aif-plan"))
		assert.NoDirExists(t, tg.BehaviorDir("hello-greet"))
	}
	assert.Nil(t, f.state().Find("hello-commit"))
}

func TestRemove_NotInstalled(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.r.Remove("ghost")
	assert.ErrorIs(t, err, ErrNotInstalled)
}

func TestOwnershipExclusivity(t *testing.T) {
	f := newFixture(t, nil)
	a := f.extension(replacingFiles("ext-a", "1.0.0", "aif-commit"))
	b := f.extension(replacingFiles("ext-b", "1.0.0", "aif-commit", "aif-review"))
	c := f.extension(replacingFiles("ext-c", "1.0.0", "aif-plan"))
	ctx := context.Background()

	steps := []struct {
		name    string
		run     func() error
		wantErr bool
	}{
		{"install a", func() error { _, err := f.r.Install(ctx, a); return err }, false},
		{"install b conflicts", func() error { _, err := f.r.Install(ctx, b); return err }, true},
		{"install c", func() error { _, err := f.r.Install(ctx, c); return err }, false},
		{"update", func() error { _, err := f.r.Update(); return err }, false},
		{"remove a", func() error { _, err := f.r.Remove("ext-a"); return err }, false},
		{"install b", func() error { _, err := f.r.Install(ctx, b); return err }, false},
		{"install a conflicts", func() error { _, err := f.r.Install(ctx, a); return err }, true},
		{"remove c", func() error { _, err := f.r.Remove("ext-c"); return err }, false},
		{"update", func() error { _, err := f.r.Update(); return err }, false},
	}
	for _, s := range steps {
		err := s.run()
		if s.wantErr {
			assert.True(t, IsConflictError(err), "%s: %v", s.name, err)
		} else {
			require.NoError(t, err, s.name)
		}
		f.assertExclusiveOwnership()
	}

	st := f.state()
	assert.Equal(t, []string{"ext-b"}, st.Names())
	assert.Equal(t, "ext-b", st.OwnerOf("aif-commit"))
	for _, tg := range f.r.Targets() {
		assert.Equal(t, f.base("aif-plan"), f.read(tg, "aif-plan"))
	}
}
