package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/hashicorp/go-hclog"
	ierrors "github.com/mantonx/frameflow/internal/modules/interpolationmodule/errors"
	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/types"
)

// Command is a fully resolved engine invocation.
type Command struct {
	Program string
	Args    []string
	Dir     string
	Env     []string
}

// Registry resolves descriptors against an installed packages directory.
type Registry struct {
	packagesDir string
	pythonPath  string
	descriptors map[types.EngineKind]*Descriptor
	logger      hclog.Logger
}

// NewRegistry creates a registry with the built-in engines.
func NewRegistry(packagesDir, pythonPath string, logger hclog.Logger) *Registry {
	r := &Registry{
		packagesDir: packagesDir,
		pythonPath:  pythonPath,
		descriptors: make(map[types.EngineKind]*Descriptor),
		logger:      logger.Named("engines"),
	}
	for _, d := range builtinDescriptors() {
		r.descriptors[d.Kind] = d
	}
	return r
}

// Get returns the descriptor for kind.
func (r *Registry) Get(kind types.EngineKind) (*Descriptor, error) {
	d, ok := r.descriptors[kind]
	if !ok {
		return nil, ierrors.ValidationError("get_engine", ierrors.ErrUnknownEngine).
			WithDetail("engine", string(kind))
	}
	return d, nil
}

// All returns every descriptor ordered by kind.
func (r *Registry) All() []*Descriptor {
	list := make([]*Descriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		list = append(list, d)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Kind < list[j].Kind })
	return list
}

// Infos returns descriptor views including whether each engine is installed.
func (r *Registry) Infos() []types.EngineInfo {
	var infos []types.EngineInfo
	for _, d := range r.All() {
		info := d.Info()
		_, err := r.ResolveExecutable(d)
		info.Installed = err == nil
		infos = append(infos, info)
	}
	return infos
}

// PackageDir returns the absolute package directory of d.
func (r *Registry) PackageDir(d *Descriptor) string {
	return filepath.Join(r.packagesDir, d.PackageDir)
}

// ResolveExecutable returns the path of the first candidate executable that
// exists in the package directory. A missing executable is a launch failure.
func (r *Registry) ResolveExecutable(d *Descriptor) (string, error) {
	dir := r.PackageDir(d)
	for _, name := range d.Executables {
		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", ierrors.LaunchError("resolve_executable",
		fmt.Errorf("none of %v found in %s", d.Executables, dir)).
		WithDetail("engine", string(d.Kind))
}

// Command builds the invocation for spec.
func (r *Registry) Command(d *Descriptor, spec types.InvocationSpec) (*Command, error) {
	path, err := r.ResolveExecutable(d)
	if err != nil {
		return nil, err
	}

	args := d.Args(filepath.Base(path), spec)
	cmd := &Command{
		Program: path,
		Args:    args,
		Dir:     r.PackageDir(d),
		Env:     d.Env(spec),
	}
	if d.Interpreted {
		// script name is the first argument, resolved against Dir
		cmd.Program = r.pythonPath
	}

	r.logger.Debug("built engine command", "engine", d.Kind, "program", cmd.Program, "args", cmd.Args)
	return cmd, nil
}
