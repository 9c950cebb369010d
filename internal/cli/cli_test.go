package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidthor/tok/pkg/engine"
	"github.com/davidthor/tok/pkg/render"
	"github.com/davidthor/tok/pkg/store"
)

var testRecords = map[string]string{
	"def_group.yaml":    "main: A set with an associative operation, an identity and inverses.\n",
	"thm_lagrange.yaml": "after: [def_group.yaml]\nmain: The order of a subgroup divides the order of the group.\nsrc: ['@book{artin}']\n",
}

func writeRecords(t *testing.T, records map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range records {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return dir
}

// execute runs the root command with args and returns what it printed.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCmd(t *testing.T) {
	cmd := newRootCmd()

	if cmd.Use != "tok" {
		t.Errorf("expected Use to be 'tok', got %q", cmd.Use)
	}

	for _, name := range []string{"config", "verbose", "store", "store-config"} {
		if cmd.PersistentFlags().Lookup(name) == nil {
			t.Errorf("expected persistent flag --%s", name)
		}
	}

	subcommands := map[string]bool{}
	for _, c := range cmd.Commands() {
		subcommands[c.Name()] = true
	}
	for _, name := range []string{"build", "order", "graph", "lint", "config", "version"} {
		if !subcommands[name] {
			t.Errorf("expected subcommand %q", name)
		}
	}
}

func TestBuildCmd_Flags(t *testing.T) {
	cmd := newBuildCmd()

	if cmd.Use != "build [FILES...]" {
		t.Errorf("expected Use to be 'build [FILES...]', got %q", cmd.Use)
	}

	flags := []string{
		"reverse", "depth", "depth-policy", "headings", "extra-headings", "all",
		"title", "author", "date", "output", "publish", "publish-dir",
		"paths", "wiki", "urls", "questions", "no-proofs", "crib", "examples", "eli5", "no-appendix",
	}
	for _, name := range flags {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("expected --%s flag", name)
		}
	}

	depth := cmd.Flags().Lookup("depth")
	if depth.DefValue != "-1" {
		t.Errorf("expected depth default -1, got %s", depth.DefValue)
	}
	if o := cmd.Flags().ShorthandLookup("o"); o == nil || o.Name != "output" {
		t.Error("expected -o shorthand for --output")
	}
}

func TestBuild(t *testing.T) {
	dir := writeRecords(t, testRecords)
	outDir := filepath.Join(t.TempDir(), "out")

	out, err := execute(t, "build",
		"--store-config", "path="+dir,
		"--output", outDir,
		"--title", "Groups",
		"thm_lagrange.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote 2 topics to "+outDir)

	doc, err := os.ReadFile(filepath.Join(outDir, "main.md"))
	require.NoError(t, err)
	assert.Contains(t, string(doc), "title: Groups")
	assert.Contains(t, string(doc), "**Definition (Group).**")
	assert.Less(t, bytes.Index(doc, []byte("Definition (Group)")), bytes.Index(doc, []byte("Theorem (Lagrange)")))

	bib, err := os.ReadFile(filepath.Join(outDir, "main.bib"))
	require.NoError(t, err)
	assert.Equal(t, "@book{artin}\n", string(bib))
}

func TestBuild_NoTopics(t *testing.T) {
	dir := writeRecords(t, testRecords)

	_, err := execute(t, "build", "--store-config", "path="+dir, "--output", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no topics given")
}

func TestBuild_MissingRecord(t *testing.T) {
	dir := writeRecords(t, map[string]string{
		"thm_orphan.yaml": "after: [def_missing.yaml]\n",
	})

	_, err := execute(t, "build", "--store-config", "path="+dir, "--output", t.TempDir(), "thm_orphan.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "def_missing.yaml")
}

func TestBuild_Publish(t *testing.T) {
	dir := writeRecords(t, testRecords)

	out, err := execute(t, "build",
		"--store-config", "path="+dir,
		"--output", t.TempDir(),
		"--publish",
		"--all")
	require.NoError(t, err)
	assert.Contains(t, out, "Published build")

	for _, name := range []string{"main.md", "main.bib", "graph.mmd", store.ManifestFile} {
		assert.FileExists(t, filepath.Join(dir, "output", name))
	}

	data, err := os.ReadFile(filepath.Join(dir, "output", store.ManifestFile))
	require.NoError(t, err)
	var manifest store.Manifest
	require.NoError(t, json.Unmarshal(data, &manifest))
	assert.Equal(t, []string{"def_group.yaml", "thm_lagrange.yaml"}, manifest.Topics)
	assert.Equal(t, []string{"graph.mmd", "main.bib", "main.md"}, manifest.Files)
	assert.NotEmpty(t, manifest.BuildID)

	// A second --all build ignores the published manifest.
	_, err = execute(t, "build", "--store-config", "path="+dir, "--output", t.TempDir(), "--all")
	require.NoError(t, err)
}

func TestOrder_JSON(t *testing.T) {
	dir := writeRecords(t, testRecords)

	out, err := execute(t, "order", "--store-config", "path="+dir, "-o", "json", "thm_lagrange.yaml")
	require.NoError(t, err)

	var entries []render.OutlineEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "def_group.yaml", entries[0].File)
	assert.Equal(t, "Lagrange", entries[1].Label)
}

func TestOrder_UnknownFormat(t *testing.T) {
	dir := writeRecords(t, testRecords)

	out, err := execute(t, "order", "--store-config", "path="+dir, "-o", "xml", "thm_lagrange.yaml")
	require.Error(t, err)
	assert.Empty(t, out)
}

func TestOrder_DepthPolicy(t *testing.T) {
	dir := writeRecords(t, testRecords)

	_, err := execute(t, "order", "--store-config", "path="+dir, "--depth-policy", "sideways", "thm_lagrange.yaml")
	require.Error(t, err)
}

func TestGraph(t *testing.T) {
	dir := writeRecords(t, testRecords)

	out, err := execute(t, "graph", "--store-config", "path="+dir, "--direction", "LR", "thm_lagrange.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "flowchart LR")
	assert.Contains(t, out, "Lagrange")
}

func TestLint(t *testing.T) {
	t.Run("clean", func(t *testing.T) {
		dir := writeRecords(t, testRecords)

		out, err := execute(t, "lint", "--store-config", "path="+dir)
		require.NoError(t, err)
		assert.Contains(t, out, "2 records checked, no dangling references")
	})

	t.Run("dangling", func(t *testing.T) {
		dir := writeRecords(t, map[string]string{
			"def_group.yaml":    "before: [thm_missing.yaml]\n",
			"thm_lagrange.yaml": "after: [./def_group.yaml, def_subgroup.yaml]\n",
		})

		out, err := execute(t, "lint", "--store-config", "path="+dir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "2 dangling references")
		assert.Contains(t, out, "thm_missing.yaml")
		assert.Contains(t, out, "def_subgroup.yaml")
		assert.NotContains(t, out, "./def_group.yaml")
	})
}

func TestStoreConfig_Precedence(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	viper.Set(ConfigKeyStoreType, "gcs")
	viper.Set(ConfigKeyStoreConfig, map[string]string{"bucket": "from-file", "prefix": "notes"})

	cfg := storeConfig("", nil)
	assert.Equal(t, "gcs", cfg.Type)
	assert.Equal(t, "from-file", cfg.Config["bucket"])

	t.Setenv(EnvStoreType, "s3")
	t.Setenv("TOK_STORE_BUCKET", "from-env")

	cfg = storeConfig("", nil)
	assert.Equal(t, "s3", cfg.Type)
	assert.Equal(t, "from-env", cfg.Config["bucket"])
	assert.Equal(t, "notes", cfg.Config["prefix"])
	assert.NotContains(t, cfg.Config, "type")

	cfg = storeConfig("azurerm", []string{"bucket=from-flag", "malformed"})
	assert.Equal(t, "azurerm", cfg.Type)
	assert.Equal(t, "from-flag", cfg.Config["bucket"])
}

func TestStoreConfig_Default(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfg := storeConfig("", nil)
	assert.Equal(t, "local", cfg.Type)
}

func TestNormalizeConfigKey(t *testing.T) {
	tests := []struct {
		key   string
		want  string
		valid bool
	}{
		{"store", "store", true},
		{"depth-policy", "depth_policy", true},
		{"extra_headings", "extra_headings", true},
		{"store-config.bucket", "store_config.bucket", true},
		{"store-config.account-key", "store_config.account-key", true},
		{"store-config.", "store_config.", false},
		{"title.sub", "title.sub", false},
		{"publisher", "publisher", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got := normalizeConfigKey(tt.key)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.valid, isConfigKey(got))
		})
	}
}

func TestConfigGet(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "tok.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("title: Notes\n"), 0644))

	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.SetConfigFile(configFile)
	require.NoError(t, viper.ReadInConfig())

	cmd := newConfigGetCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"title"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "Notes\n", out.String())
}

func TestProgressPrinter(t *testing.T) {
	t.Run("quiet when not a terminal", func(t *testing.T) {
		var buf bytes.Buffer
		p := newProgressPrinter(&buf)
		p.Handle(engine.ProgressEvent{Stage: engine.StageBuild, Detail: "1 topics requested"})
		assert.Empty(t, buf.String())
	})

	t.Run("verbose", func(t *testing.T) {
		verbose = true
		t.Cleanup(func() { verbose = false })

		var buf bytes.Buffer
		p := newProgressPrinter(&buf)
		p.Handle(engine.ProgressEvent{Stage: engine.StageBuild, Detail: "1 topics requested"})
		p.Handle(engine.ProgressEvent{Stage: engine.StageBuild, Done: true, Detail: "1 topics loaded"})

		out := buf.String()
		assert.Contains(t, out, iconRunning+" build")
		assert.Contains(t, out, iconDone+" build")
		assert.Contains(t, out, "1 topics loaded")
	})
}
