package services

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/pelletier/go-toml"

	"github.com/fleecy/participant/internal/domain"
)

const (
	FlowerScriptName  = "run_fl.sh"
	FlowerLaunchLabel = "flwr run ."
)

// Files a Flower client bundle must carry. task.py is optional.
var flowerRequiredFiles = []string{"pyproject.toml", "client_app.py", "server_app.py"}

// Packages installed before the client starts, ahead of any the project
// declares itself.
var flowerBasePackages = []string{"flwr>=1.20.0", "torch==2.7.1", "torchvision==0.22.1"}

type FlowerBundleInput struct {
	Files             map[string]string
	AggregatorAddress string
	PartitionID       int
	NumPartitions     int
	LocalEpochs       int
}

type FlowerBundle struct {
	ProjectName string
	Files       map[string]string
	Command     domain.CommandSpec
}

type pyProject struct {
	Project struct {
		Name         string   `toml:"name"`
		Version      string   `toml:"version"`
		Dependencies []string `toml:"dependencies"`
	} `toml:"project"`
}

var flowerScript = template.Must(template.New(FlowerScriptName).Funcs(template.FuncMap{
	"quote": shellQuote,
}).Parse(`#!/bin/bash
set -e
export PATH=$HOME/.local/bin:$PATH

echo "=== Flower client setup ({{ .Project }}) ==="
python3 --version

if ! python3 -m pip --version 2>/dev/null; then
    echo "Installing pip..."
    sudo apt update && sudo apt install -y python3-pip
fi

echo "Installing dependencies..."
python3 -m pip install --user --upgrade pip
python3 -m pip install --user{{ range .Packages }} {{ quote . }}{{ end }}

echo "Installed packages:"
python3 -m pip list --user | grep -E "(flwr|torch)" || true

echo "Partition ID: {{ .PartitionID }}"
echo "Number of partitions: {{ .NumPartitions }}"
echo "Aggregator address: "{{ quote .AggregatorAddress }}
exec python3 client_app.py --server-address {{ quote .AggregatorAddress }} --partition-id {{ .PartitionID }} --num-partitions {{ .NumPartitions }} --local-epochs {{ .LocalEpochs }}
`))

// BuildFlowerBundle validates a Flower project and adds the launcher script
// that installs the client dependencies and connects it to the aggregator.
func BuildFlowerBundle(in FlowerBundleInput) (*FlowerBundle, error) {
	for _, name := range flowerRequiredFiles {
		if strings.TrimSpace(in.Files[name]) == "" {
			return nil, fmt.Errorf("%w: %s", ErrBundleMissingFile, name)
		}
	}
	if strings.TrimSpace(in.AggregatorAddress) == "" {
		return nil, fmt.Errorf("%w: aggregator address is required", ErrInvalidTask)
	}
	if in.NumPartitions <= 0 {
		in.NumPartitions = 1
	}
	if in.PartitionID < 0 || in.PartitionID >= in.NumPartitions {
		return nil, fmt.Errorf("%w: partition id %d out of range [0, %d)", ErrInvalidTask, in.PartitionID, in.NumPartitions)
	}
	if in.LocalEpochs <= 0 {
		in.LocalEpochs = 3
	}

	tree, err := toml.Load(in.Files["pyproject.toml"])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBundleInvalidTOML, err)
	}
	var project pyProject
	if err := tree.Unmarshal(&project); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBundleInvalidTOML, err)
	}

	packages := append([]string(nil), flowerBasePackages...)
	seen := map[string]bool{}
	for _, p := range packages {
		seen[packageName(p)] = true
	}
	for _, dep := range project.Project.Dependencies {
		if name := packageName(dep); name != "" && !seen[name] {
			packages = append(packages, dep)
			seen[name] = true
		}
	}

	var script bytes.Buffer
	err = flowerScript.Execute(&script, map[string]interface{}{
		"Project":           project.Project.Name,
		"Packages":          packages,
		"PartitionID":       in.PartitionID,
		"NumPartitions":     in.NumPartitions,
		"LocalEpochs":       in.LocalEpochs,
		"AggregatorAddress": in.AggregatorAddress,
	})
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", FlowerScriptName, err)
	}

	files := make(map[string]string, len(in.Files)+1)
	for _, name := range append(flowerRequiredFiles, "task.py") {
		if content, ok := in.Files[name]; ok && content != "" {
			files[name] = content
		}
	}
	files[FlowerScriptName] = script.String()

	cmd := domain.ExplicitCommand("chmod +x " + FlowerScriptName + " && ./" + FlowerScriptName)
	cmd.Marker = "client_app.py"

	return &FlowerBundle{
		ProjectName: project.Project.Name,
		Files:       files,
		Command:     cmd,
	}, nil
}

// packageName strips version specifiers and extras from a requirement.
func packageName(req string) string {
	req = strings.TrimSpace(req)
	if i := strings.IndexAny(req, "<>=!~[; "); i >= 0 {
		req = req[:i]
	}
	return strings.ToLower(req)
}
