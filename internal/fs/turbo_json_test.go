package fs

import (
	"os"
	"reflect"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/turbolite/turbo/internal/turbopath"
	"github.com/turbolite/turbo/internal/util"
)

func assertSorted(t *testing.T, arr []string, label string) {
	t.Helper()
	if arr == nil {
		return
	}
	copied := append([]string{}, arr...)
	sort.Strings(copied)
	if !reflect.DeepEqual(arr, copied) {
		t.Errorf("%s is not sorted: %v", label, arr)
	}
}

// requireTask asserts that pipeline[name] exists and matches both the
// bookkeeping definedFields and the resolved TaskDefinition.
func requireTask(t *testing.T, pipeline Pipeline, name string, definedFields []string, want TaskDefinition) {
	t.Helper()
	got, ok := pipeline[name]
	if !ok {
		t.Fatalf("pipeline is missing task %q", name)
	}

	assertSorted(t, got.TaskDefinition.Outputs.Inclusions, name+".Outputs.Inclusions")
	assertSorted(t, got.TaskDefinition.Outputs.Exclusions, name+".Outputs.Exclusions")
	assertSorted(t, got.TaskDefinition.Env, name+".Env")
	assertSorted(t, got.TaskDefinition.PassThroughEnv, name+".PassThroughEnv")
	assertSorted(t, got.TaskDefinition.TopologicalDependencies, name+".TopologicalDependencies")
	assertSorted(t, got.TaskDefinition.TaskDependencies, name+".TaskDependencies")

	assert.ElementsMatchf(t, definedFields, got.definedFields.UnsafeListOfStrings(), "definedFields mismatch for %s", name)
	assert.Equalf(t, want, got.TaskDefinition, "task definition mismatch for %s", name)
}

func fixtureDir(t *testing.T, name string) turbopath.AbsoluteSystemPath {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get cwd: %v", err)
	}
	return AbsoluteSystemPathFromUpstream(wd).UntypedJoin("testdata", name)
}

func Test_TaskDotEnvVariants(t *testing.T) {
	testDir := fixtureDir(t, "dotenv-variants")
	turboJSON, err := readTurboConfig(testDir.UntypedJoin("turbo.json"))
	if err != nil {
		t.Fatalf("invalid parse: %v", err)
	}

	requireTask(t, turboJSON.Pipeline, "absent", []string{}, TaskDefinition{
		ShouldCache:             true,
		TopologicalDependencies: []string{},
		TaskDependencies:        []string{},
		Env:                     []string{},
	})

	requireTask(t, turboJSON.Pipeline, "empty", []string{"DotEnv"}, TaskDefinition{
		ShouldCache:             true,
		TopologicalDependencies: []string{},
		TaskDependencies:        []string{},
		Env:                     []string{},
		DotEnv:                  turbopath.AnchoredUnixPathArray{},
	})

	requireTask(t, turboJSON.Pipeline, "populated", []string{"DotEnv"}, TaskDefinition{
		ShouldCache:             true,
		TopologicalDependencies: []string{},
		TaskDependencies:        []string{},
		Env:                     []string{},
		DotEnv:                  turbopath.AnchoredUnixPathArray{".env.b", ".env.a"},
	})
}

func Test_TaskPassThroughEnvVariants(t *testing.T) {
	testDir := fixtureDir(t, "passthrough-variants")
	turboJSON, err := readTurboConfig(testDir.UntypedJoin("turbo.json"))
	if err != nil {
		t.Fatalf("invalid parse: %v", err)
	}

	requireTask(t, turboJSON.Pipeline, "absent", []string{}, TaskDefinition{
		ShouldCache:             true,
		TopologicalDependencies: []string{},
		TaskDependencies:        []string{},
		Env:                     []string{},
	})

	requireTask(t, turboJSON.Pipeline, "empty", []string{"PassThroughEnv"}, TaskDefinition{
		ShouldCache:             true,
		TopologicalDependencies: []string{},
		TaskDependencies:        []string{},
		Env:                     []string{},
		PassThroughEnv:          []string{},
	})

	requireTask(t, turboJSON.Pipeline, "populated", []string{"PassThroughEnv"}, TaskDefinition{
		ShouldCache:             true,
		TopologicalDependencies: []string{},
		TaskDependencies:        []string{},
		Env:                     []string{},
		PassThroughEnv:          []string{"X", "Y", "Z"},
	})
}

func Test_ReadTurboConfig(t *testing.T) {
	testDir := fixtureDir(t, "correct")
	turboJSON, err := readTurboConfig(testDir.UntypedJoin("turbo.json"))
	if err != nil {
		t.Fatalf("invalid parse: %v", err)
	}

	assertSorted(t, turboJSON.GlobalDeps, "GlobalDeps")
	assertSorted(t, turboJSON.GlobalEnv, "GlobalEnv")
	assert.Equal(t, []string{"somefile.txt"}, turboJSON.GlobalDeps)
	assert.Equal(t, []string{"BAR", "FOO"}, turboJSON.GlobalEnv)

	requireTask(t, turboJSON.Pipeline, "build", []string{"Outputs", "OutputMode", "TopologicalDependencies"}, TaskDefinition{
		Outputs:                 TaskOutputs{Inclusions: []string{".next/**", "dist/**"}, Exclusions: []string{"dist/assets/**"}},
		ShouldCache:             true,
		TopologicalDependencies: []string{"build"},
		TaskDependencies:        []string{},
		OutputMode:              util.NewTaskOutput,
		Env:                     []string{},
	})

	requireTask(t, turboJSON.Pipeline, "lint", []string{"ShouldCache", "Env", "OutputMode"}, TaskDefinition{
		ShouldCache:             false,
		TopologicalDependencies: []string{},
		TaskDependencies:        []string{},
		OutputMode:              util.NewTaskOutput,
		Env:                     []string{"MY_VAR"},
	})

	requireTask(t, turboJSON.Pipeline, "dev", []string{"ShouldCache", "Persistent", "OutputMode", "DotEnv"}, TaskDefinition{
		ShouldCache:             false,
		Persistent:              true,
		TopologicalDependencies: []string{},
		TaskDependencies:        []string{},
		OutputMode:              util.FullTaskOutput,
		Env:                     []string{},
		DotEnv:                  turbopath.AnchoredUnixPathArray{".env.development"},
	})

	requireTask(t, turboJSON.Pipeline, "publish", []string{"Inputs", "Outputs", "TaskDependencies", "ShouldCache", "PassThroughEnv"}, TaskDefinition{
		Outputs:                 TaskOutputs{Inclusions: []string{"dist/**"}},
		ShouldCache:             false,
		TopologicalDependencies: []string{},
		TaskDependencies:        []string{"admin#lint", "build"},
		Inputs:                  []string{"build/**/*"},
		Env:                     []string{},
		PassThroughEnv:          []string{"GITHUB_TOKEN"},
	})

	assert.Equal(t, RemoteCacheOptions{TeamID: "team_id", Signature: true}, turboJSON.RemoteCacheOptions)
}

func Test_LoadTurboConfig_LegacyFieldWithoutConfigFile(t *testing.T) {
	testDir := fixtureDir(t, "legacy-only")
	rootPackageJSON, err := ReadPackageJSON(testDir.UntypedJoin("package.json"))
	if err != nil {
		t.Fatalf("invalid parse: %v", err)
	}

	_, err = LoadTurboConfig(testDir, rootPackageJSON, false)
	expected := "Could not find turbo.json. Follow directions at https://turbo.build/repo/docs to create one: file does not exist"
	assert.EqualError(t, err, expected)
	assert.Nil(t, rootPackageJSON.LegacyTurboConfig, "legacy turbo key should be cleared even when load ultimately fails")
}

func Test_LoadTurboConfig_LegacyFieldIgnoredWhenConfigFilePresent(t *testing.T) {
	testDir := fixtureDir(t, "legacy-and-turbojson")
	rootPackageJSON, err := ReadPackageJSON(testDir.UntypedJoin("package.json"))
	if err != nil {
		t.Fatalf("invalid parse: %v", err)
	}

	turboJSON, err := LoadTurboConfig(testDir, rootPackageJSON, false)
	if err != nil {
		t.Fatalf("invalid parse: %v", err)
	}

	requireTask(t, turboJSON.Pipeline, "build", []string{"Outputs", "OutputMode", "TopologicalDependencies"}, TaskDefinition{
		Outputs:                 TaskOutputs{Inclusions: []string{".next/**", "dist/**"}, Exclusions: []string{"dist/assets/**"}},
		ShouldCache:             true,
		TopologicalDependencies: []string{"build"},
		TaskDependencies:        []string{},
		OutputMode:              util.NewTaskOutput,
		Env:                     []string{},
	})

	assert.Nil(t, rootPackageJSON.LegacyTurboConfig, "legacy turbo key in package.json should be cleared once turbo.json takes over")
}

func Test_LoadTurboConfig_SynthesizesMissingScripts(t *testing.T) {
	testDir := fixtureDir(t, "synth-scripts")
	rootPackageJSON, err := ReadPackageJSON(testDir.UntypedJoin("package.json"))
	if err != nil {
		t.Fatalf("invalid parse: %v", err)
	}

	turboJSON, err := LoadTurboConfig(testDir, rootPackageJSON, true)
	if err != nil {
		t.Fatalf("invalid parse: %v", err)
	}

	// Synthesis rewrites every existing pipeline key to its root-task id
	// ("build" -> "//#build") before looking at package.json#scripts.
	rootBuild := util.RootTaskID("build")
	rootTest := util.RootTaskID("test")

	// "build" is declared in both turbo.json and package.json#scripts: the
	// turbo.json definition wins and is left untouched.
	requireTask(t, turboJSON.Pipeline, rootBuild, []string{"Outputs"}, TaskDefinition{
		Outputs:                 TaskOutputs{Inclusions: []string{"dist/**"}},
		ShouldCache:             true,
		TopologicalDependencies: []string{},
		TaskDependencies:        []string{},
		Env:                     []string{},
	})

	// "test" only exists as a package.json script: it gets synthesized with
	// caching disabled, and that decision is recorded in the bookkeeping so
	// it behaves as if it had been explicitly written to turbo.json.
	got, ok := turboJSON.Pipeline[rootTest]
	if !ok {
		t.Fatalf("expected a synthesized %q task", rootTest)
	}
	assert.Equal(t, []string{"ShouldCache"}, got.definedFields.UnsafeListOfStrings())
	assert.Equal(t, TaskDefinition{ShouldCache: false}, got.TaskDefinition)
}

func Test_LoadTurboConfig_RejectsPackageTasksInSinglePackageRepo(t *testing.T) {
	testDir := fixtureDir(t, "package-task-in-root")
	rootPackageJSON, err := ReadPackageJSON(testDir.UntypedJoin("package.json"))
	if err != nil {
		t.Fatalf("invalid parse: %v", err)
	}

	_, err = LoadTurboConfig(testDir, rootPackageJSON, true)
	if err == nil {
		t.Fatalf("expected an error for a package-qualified task in a single-package repo")
	}
}

func Test_ReadTurboConfig_InvalidTaskEnvDeclarations(t *testing.T) {
	cases := []struct {
		fixture string
		want    string
	}{
		{"invalid-env-prefix", "turbo.json: You specified \"$A\" in the \"env\" key. You should not prefix your environment variables with \"$\""},
		{"invalid-passthrough-env-prefix", "turbo.json: You specified \"$A\" in the \"passThroughEnv\" key. You should not prefix your environment variables with \"$\""},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.fixture, func(t *testing.T) {
			testDir := fixtureDir(t, tc.fixture)
			_, err := readTurboConfig(testDir.UntypedJoin("turbo.json"))
			assert.EqualError(t, err, tc.want)
		})
	}
}

func Test_ReadTurboConfig_InvalidGlobalEnvDeclarations(t *testing.T) {
	testDir := fixtureDir(t, "invalid-global-env")
	_, err := readTurboConfig(testDir.UntypedJoin("turbo.json"))
	expected := "turbo.json: You specified \"$QUX\" in the \"env\" key. You should not prefix your environment variables with \"$\""
	assert.EqualError(t, err, expected)
}

func Test_ReadTurboConfig_DeprecatedEnvVarDependencies(t *testing.T) {
	testDir := fixtureDir(t, "legacy-env")
	turboJSON, err := readTurboConfig(testDir.UntypedJoin("turbo.json"))
	if err != nil {
		t.Fatalf("invalid parse: %v", err)
	}

	pipeline := turboJSON.Pipeline
	assert.Equal(t, []string{"A"}, pipeline["task1"].TaskDefinition.Env)
	assert.Equal(t, []string{"A"}, pipeline["task2"].TaskDefinition.Env)
	assert.Equal(t, []string{"A", "B"}, pipeline["task3"].TaskDefinition.Env)
	assert.Equal(t, []string{"A", "B", "C"}, pipeline["task4"].TaskDefinition.Env)

	assert.Equal(t, []string{"BAR", "FOO"}, turboJSON.GlobalEnv)
	assert.Equal(t, []string{"somefile.txt"}, turboJSON.GlobalDeps)
}

func Test_TaskOutputsSort(t *testing.T) {
	unsorted := TaskOutputs{
		Inclusions: []string{"foo/**", "bar"},
		Exclusions: []string{"special-file", ".hidden/**"},
	}

	sorted := unsorted.Sort()

	assertSorted(t, sorted.Inclusions, "Inclusions")
	assertSorted(t, sorted.Exclusions, "Exclusions")
	assert.Equal(t, TaskOutputs{Inclusions: []string{"bar", "foo/**"}, Exclusions: []string{".hidden/**", "special-file"}}, sorted)

	// Sort returns a copy: the receiver is untouched.
	assert.Equal(t, []string{"foo/**", "bar"}, unsorted.Inclusions)
}
