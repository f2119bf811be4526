// Package layout loads the initial device placements for a fresh world.
package layout

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"hydronet/internal/sim/fluid"
	"hydronet/internal/sim/fluid/devices"
	"hydronet/internal/sim/world"
)

type Layout struct {
	Devices []Placement `yaml:"devices"`
	Lines   []Line      `yaml:"lines"`
}

// Placement is one device. Open and Active are applied after placement
// when set (valves and pumps respectively).
type Placement struct {
	Kind       string   `yaml:"kind"`
	Pos        [3]int   `yaml:"pos"`
	Facing     string   `yaml:"facing"`
	Connectors []string `yaml:"connectors"`
	Open       *bool    `yaml:"open"`
	Active     *bool    `yaml:"active"`
}

// Line is an axis-aligned run of identical devices, endpoints included.
type Line struct {
	Kind string `yaml:"kind"` // default PIPE
	From [3]int `yaml:"from"`
	To   [3]int `yaml:"to"`
}

func Load(path string) (Layout, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Layout{}, err
	}
	l, err := Parse(b)
	if err != nil {
		return Layout{}, fmt.Errorf("%s: %w", path, err)
	}
	return l, nil
}

func Parse(b []byte) (Layout, error) {
	var l Layout
	if err := yaml.Unmarshal(b, &l); err != nil {
		return Layout{}, err
	}
	if _, err := l.Commands(); err != nil {
		return Layout{}, err
	}
	return l, nil
}

// Commands expands the layout into world edits: lines first, then the
// individual placements, each followed by its valve or pump toggle.
func (l Layout) Commands() ([]world.Command, error) {
	var (
		out  []world.Command
		errs []error
	)
	for i, ln := range l.Lines {
		cmds, err := ln.commands()
		if err != nil {
			errs = append(errs, fmt.Errorf("lines[%d]: %w", i, err))
			continue
		}
		out = append(out, cmds...)
	}
	for i, p := range l.Devices {
		cmds, err := p.Commands()
		if err != nil {
			errs = append(errs, fmt.Errorf("devices[%d]: %w", i, err))
			continue
		}
		out = append(out, cmds...)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func (p Placement) Commands() ([]world.Command, error) {
	kind, ok := devices.ParseKind(p.Kind)
	if !ok {
		return nil, fmt.Errorf("unknown kind %q", p.Kind)
	}
	facing := fluid.Down
	if p.Facing != "" {
		d, ok := parseDirection(p.Facing)
		if !ok {
			return nil, fmt.Errorf("unknown facing %q", p.Facing)
		}
		facing = d
	}
	var connectors []fluid.Direction
	if len(p.Connectors) > 0 {
		if kind != devices.KindPipe {
			return nil, fmt.Errorf("connectors only apply to %s", devices.KindPipe)
		}
		for _, s := range p.Connectors {
			d, ok := parseDirection(s)
			if !ok {
				return nil, fmt.Errorf("unknown connector %q", s)
			}
			connectors = append(connectors, d)
		}
	}
	pos := fluid.Pos{X: p.Pos[0], Y: p.Pos[1], Z: p.Pos[2]}
	out := []world.Command{{Kind: world.CmdPlace, Pos: pos, Device: kind, Facing: facing, Connectors: connectors}}
	if p.Open != nil {
		if kind != devices.KindValve {
			return nil, fmt.Errorf("open only applies to %s", devices.KindValve)
		}
		out = append(out, world.Command{Kind: world.CmdValve, Pos: pos, On: *p.Open})
	}
	if p.Active != nil {
		if kind != devices.KindPump {
			return nil, fmt.Errorf("active only applies to %s", devices.KindPump)
		}
		out = append(out, world.Command{Kind: world.CmdPump, Pos: pos, On: *p.Active})
	}
	return out, nil
}

func (ln Line) commands() ([]world.Command, error) {
	kind := devices.KindPipe
	if ln.Kind != "" {
		k, ok := devices.ParseKind(ln.Kind)
		if !ok {
			return nil, fmt.Errorf("unknown kind %q", ln.Kind)
		}
		kind = k
	}
	axis := -1
	for i := 0; i < 3; i++ {
		if ln.From[i] == ln.To[i] {
			continue
		}
		if axis >= 0 {
			return nil, fmt.Errorf("line %v..%v is not axis-aligned", ln.From, ln.To)
		}
		axis = i
	}
	step := 1
	n := 1
	if axis >= 0 {
		n = ln.To[axis] - ln.From[axis]
		if n < 0 {
			step, n = -1, -n
		}
		n++
	}
	out := make([]world.Command, 0, n)
	cur := ln.From
	for i := 0; i < n; i++ {
		out = append(out, world.Command{
			Kind:   world.CmdPlace,
			Pos:    fluid.Pos{X: cur[0], Y: cur[1], Z: cur[2]},
			Device: kind,
			Facing: fluid.Down,
		})
		if axis >= 0 {
			cur[axis] += step
		}
	}
	return out, nil
}

// Apply runs the layout against w before its loop starts. Every command is
// attempted; failures are joined.
func Apply(w *world.World, l Layout) (int, error) {
	cmds, err := l.Commands()
	if err != nil {
		return 0, err
	}
	var errs []error
	applied := 0
	for _, c := range cmds {
		res := w.Apply(c)
		if res.Err != "" {
			errs = append(errs, fmt.Errorf("%s %v: %s", c.Kind, c.Pos.ToArray(), res.Err))
			continue
		}
		applied++
	}
	return applied, errors.Join(errs...)
}

func parseDirection(s string) (fluid.Direction, bool) {
	return fluid.ParseDirection(strings.ToUpper(strings.TrimSpace(s)))
}
