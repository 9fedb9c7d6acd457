// Package hclgrid loads gridflow graph configurations from HCL grid files.
//
// A grid file declares function, event and connection blocks:
//
//	function "greet" {
//	  args   = ["hello"]
//	  throws = true
//	}
//
//	event "tick" {
//	  once = true
//	}
//
//	connection {
//	  from       = ["greet", "tick"]
//	  transition = "{ to = [[from[0], from[1]]] }"
//	  to         = ["report"]
//	}
//
// Transition, inputs and output expressions are carried as strings because
// the engine evaluates them later against per-firing variables.
package hclgrid

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/gridflow"
	"github.com/vk/gridflow/internal/ctxlog"
	"github.com/vk/gridflow/internal/ctyconv"
)

// fileRoot decodes all recognized top-level blocks from one grid file.
type fileRoot struct {
	Functions   []*functionBlock   `hcl:"function,block"`
	Events      []*eventBlock      `hcl:"event,block"`
	Connections []*connectionBlock `hcl:"connection,block"`
}

type functionBlock struct {
	Name   string     `hcl:"name,label"`
	Ref    *string    `hcl:"ref,optional"`
	Args   *cty.Value `hcl:"args,optional"`
	Throws *bool      `hcl:"throws,optional"`
	Inputs *string    `hcl:"inputs,optional"`
	Output *string    `hcl:"output,optional"`
}

type eventBlock struct {
	Name string  `hcl:"name,label"`
	Ref  *string `hcl:"ref,optional"`
	Once *bool   `hcl:"once,optional"`
}

type connectionBlock struct {
	From       []string `hcl:"from"`
	Transition *string  `hcl:"transition,optional"`
	To         []string `hcl:"to"`
}

// Load parses every .hcl file under the given paths (files or directories)
// and merges them into one Config. Declaring the same node name twice is an
// error.
func Load(ctx context.Context, paths ...string) (*gridflow.Config, error) {
	logger := ctxlog.FromContext(ctx)

	files, err := findGridFiles(paths)
	if err != nil {
		return nil, err
	}
	logger.Debug("Discovered grid files.", "count", len(files))

	cfg := &gridflow.Config{
		Functions: make(map[string]gridflow.FunctionSpec),
		Events:    make(map[string]gridflow.EventSpec),
	}

	parser := hclparse.NewParser()
	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("parsing %s: %s", file, diags.Error())
		}

		var root fileRoot
		if diags := gohcl.DecodeBody(hclFile.Body, nil, &root); diags.HasErrors() {
			return nil, fmt.Errorf("decoding %s: %s", file, diags.Error())
		}

		for _, block := range root.Functions {
			if _, dup := cfg.Functions[block.Name]; dup {
				return nil, fmt.Errorf("%s: function %q declared more than once", file, block.Name)
			}
			spec, err := translateFunction(block)
			if err != nil {
				return nil, fmt.Errorf("%s: function %q: %w", file, block.Name, err)
			}
			cfg.Functions[block.Name] = spec
		}
		for _, block := range root.Events {
			if _, dup := cfg.Events[block.Name]; dup {
				return nil, fmt.Errorf("%s: event %q declared more than once", file, block.Name)
			}
			cfg.Events[block.Name] = translateEvent(block)
		}
		for _, block := range root.Connections {
			conn := gridflow.Connection{From: block.From, To: block.To}
			if block.Transition != nil {
				conn.Transition = *block.Transition
			}
			if conn.To == nil {
				conn.To = []string{}
			}
			cfg.Connections = append(cfg.Connections, conn)
		}
	}

	logger.Debug("Grid loaded.",
		"functions", len(cfg.Functions),
		"events", len(cfg.Events),
		"connections", len(cfg.Connections))
	return cfg, nil
}

func translateFunction(block *functionBlock) (gridflow.FunctionSpec, error) {
	var spec gridflow.FunctionSpec
	if block.Ref != nil {
		spec.Ref = *block.Ref
	}
	if block.Throws != nil {
		spec.Throws = *block.Throws
	}
	if block.Inputs != nil {
		spec.Inputs = *block.Inputs
	}
	if block.Output != nil {
		spec.Output = *block.Output
	}
	if block.Args != nil {
		decoded, err := ctyconv.FromCty(*block.Args)
		if err != nil {
			return spec, fmt.Errorf("args: %w", err)
		}
		args, ok := decoded.([]any)
		if !ok {
			return spec, fmt.Errorf("args must be a list, got %T", decoded)
		}
		if args == nil {
			args = []any{}
		}
		spec.Args = args
	}
	return spec, nil
}

func translateEvent(block *eventBlock) gridflow.EventSpec {
	var spec gridflow.EventSpec
	if block.Ref != nil {
		spec.Ref = *block.Ref
	}
	if block.Once != nil {
		spec.Once = *block.Once
	}
	return spec
}

// findGridFiles expands each path into its .hcl files: a file is taken
// as-is, a directory is walked recursively. The result is sorted for
// deterministic merge order.
func findGridFiles(paths []string) ([]string, error) {
	var files []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}
		err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.HasSuffix(p, ".hcl") {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .hcl grid files found in %s", strings.Join(paths, ", "))
	}
	sort.Strings(files)
	return files, nil
}
