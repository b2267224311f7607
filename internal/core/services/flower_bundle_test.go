package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPyProject = `[build-system]
requires = ["hatchling"]

[project]
name = "cifar-client"
version = "1.0.0"
dependencies = ["flwr[simulation]>=1.20.0", "numpy<2", "Pillow"]

[tool.flwr.app.config]
num-server-rounds = 3
`

func flowerFiles() map[string]string {
	return map[string]string{
		"pyproject.toml": testPyProject,
		"client_app.py":  "print('client')",
		"server_app.py":  "print('server')",
	}
}

func TestBuildFlowerBundle(t *testing.T) {
	files := flowerFiles()
	files["task.py"] = "def load(): pass"
	files["notes.md"] = "ignored"

	bundle, err := BuildFlowerBundle(FlowerBundleInput{
		Files:             files,
		AggregatorAddress: "10.0.0.1:9092",
		PartitionID:       1,
		NumPartitions:     4,
	})
	require.NoError(t, err)

	assert.Equal(t, "cifar-client", bundle.ProjectName)
	assert.Equal(t, "chmod +x run_fl.sh && ./run_fl.sh", bundle.Command.ShellCommand())
	assert.NoError(t, bundle.Command.Validate())
	assert.Equal(t, "client_app.py", bundle.Command.ProbeToken())

	assert.Contains(t, bundle.Files, "task.py")
	assert.NotContains(t, bundle.Files, "notes.md")

	script := bundle.Files[FlowerScriptName]
	assert.Contains(t, script, "#!/bin/bash\nset -e\n")
	assert.Contains(t, script, "python3 client_app.py --server-address '10.0.0.1:9092' --partition-id 1 --num-partitions 4 --local-epochs 3")
	assert.Contains(t, script, "'flwr>=1.20.0' 'torch==2.7.1' 'torchvision==0.22.1' 'numpy<2' 'Pillow'")
	assert.NotContains(t, script, "flwr[simulation]")
}

func TestBuildFlowerBundleErrors(t *testing.T) {
	tests := map[string]struct {
		mutate func(in *FlowerBundleInput)
		expErr error
	}{
		"Missing client app should be rejected.": {
			mutate: func(in *FlowerBundleInput) { delete(in.Files, "client_app.py") },
			expErr: ErrBundleMissingFile,
		},
		"Blank server app should be rejected.": {
			mutate: func(in *FlowerBundleInput) { in.Files["server_app.py"] = "  " },
			expErr: ErrBundleMissingFile,
		},
		"Broken pyproject should be rejected.": {
			mutate: func(in *FlowerBundleInput) { in.Files["pyproject.toml"] = "[project\nname = " },
			expErr: ErrBundleInvalidTOML,
		},
		"Missing aggregator should be rejected.": {
			mutate: func(in *FlowerBundleInput) { in.AggregatorAddress = "" },
			expErr: ErrInvalidTask,
		},
		"Partition outside the range should be rejected.": {
			mutate: func(in *FlowerBundleInput) { in.PartitionID, in.NumPartitions = 2, 2 },
			expErr: ErrInvalidTask,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			in := FlowerBundleInput{Files: flowerFiles(), AggregatorAddress: "10.0.0.1:9092"}
			test.mutate(&in)

			_, err := BuildFlowerBundle(in)
			assert.ErrorIs(t, err, test.expErr)
		})
	}
}

func TestPackageName(t *testing.T) {
	assert.Equal(t, "flwr", packageName("flwr[simulation]>=1.20.0"))
	assert.Equal(t, "numpy", packageName(" numpy<2 "))
	assert.Equal(t, "pillow", packageName("Pillow"))
	assert.Equal(t, "torch", packageName("torch==2.7.1"))
}
