package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geepafs/assure/pkg/profile"
)

func TestParsePerfFloorTag(t *testing.T) {
	cases := []struct {
		tag     string
		want    PerfFloor
		wantErr bool
	}{
		{"p85", PerfFloor85, false},
		{"p90", PerfFloor90, false},
		{"p95", PerfFloor95, false},
		{"p99", 0, true},
	}
	for _, c := range cases {
		t.Run(c.tag, func(t *testing.T) {
			got, err := ParsePerfFloorTag(c.tag)
			if c.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.want, got)
		})
	}
}

func TestParsePolicy_RejectsUnknown(t *testing.T) {
	_, err := ParsePolicy("Bogus")
	assert.Error(t, err)
}

func TestDefaults_MatchSpecValues(t *testing.T) {
	d := Defaults()
	assert.Equal(t, PerfFloor90, d.PerfFloor)
	assert.Equal(t, 200*time.Millisecond, d.LoopPeriod)
	assert.Equal(t, 15*time.Second, d.ProbeInterval)
	assert.Equal(t, 2, d.ProbeReps)
	assert.Equal(t, 16, d.Window)
	assert.Equal(t, 100.0, d.RegErrThreshold)
	assert.True(t, d.UseCap)
	assert.True(t, d.UseRegression)
}

func TestLoadFile_OverridesOnlySetFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "assure.toml")
	content := `
machine = "v100-300w"
loop_period_ms = 250
use_cap = false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	base := Defaults()
	base.Machine = profile.V100MaxQ
	out, err := LoadFile(path, base)
	require.NoError(t, err)

	assert.Equal(t, profile.V100_300W, out.Machine)
	assert.Equal(t, 250*time.Millisecond, out.LoopPeriod)
	assert.False(t, out.UseCap)
	// untouched fields retain base values.
	assert.Equal(t, 2, out.ProbeReps)
	assert.True(t, out.UseRegression)
}

func TestValidate_RejectsUnknownMachine(t *testing.T) {
	c := Defaults()
	c.Machine = "nonexistent"
	assert.Error(t, c.Validate())
}

func TestValidate_AcceptsDefaultsWithMachineSet(t *testing.T) {
	c := Defaults()
	c.Machine = profile.A100Insp
	assert.NoError(t, c.Validate())
}
