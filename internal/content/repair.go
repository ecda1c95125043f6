package content

import (
	"github.com/rookie-ar/markerscene/internal/engine"
	"github.com/rookie-ar/markerscene/pkg/core"
)

// AutoMaterialPrefix names materials created by the repair pass.
const AutoMaterialPrefix = "AutoMat_"

// RepairReport summarizes one repair pass.
type RepairReport struct {
	Renderers int
	Repaired  int
	// Unrepaired counts broken slots left alone because no fallback shader exists.
	Unrepaired int
	Shader     string
}

// fallbackShader returns the first available shader from the preference list.
func (l *Loader) fallbackShader() (string, bool) {
	for _, name := range l.fallbacks {
		if l.shaders.Available(name) {
			return name, true
		}
	}
	return "", false
}

func (l *Loader) broken(m *engine.Material) bool {
	return m == nil || m.Shader == "" || !l.shaders.Available(m.Shader)
}

// RepairMaterials replaces every missing or unrenderable material slot under
// root with a neutral AutoMat_<shader> material. With no fallback shader the
// slots are left as they are and ErrMissingDependency is logged; it never fails.
func (l *Loader) RepairMaterials(root engine.NodeID) RepairReport {
	renderers := l.graph.Renderers(root)
	report := RepairReport{Renderers: len(renderers)}
	if len(renderers) == 0 {
		l.logger.Debug("material repair: no renderers found", "root", root)
		return report
	}

	var broken int
	for _, r := range renderers {
		for _, m := range r.Materials {
			if l.broken(m) {
				broken++
			}
		}
	}
	if broken == 0 {
		return report
	}

	shader, ok := l.fallbackShader()
	if !ok {
		report.Unrepaired = broken
		l.logger.Error("material repair skipped",
			"error", core.Errorf(core.ErrMissingDependency, "none of %v is available", l.fallbacks),
			"slots", broken)
		return report
	}
	report.Shader = shader

	for _, r := range renderers {
		for slot, m := range r.Materials {
			if !l.broken(m) {
				continue
			}
			auto := &engine.Material{
				Name:      AutoMaterialPrefix + shader,
				Shader:    shader,
				BaseColor: [4]float64{0.8, 0.8, 0.8, 1},
				Roughness: 0.5,
			}
			if err := l.graph.SetMaterial(r.Node, slot, auto); err != nil {
				report.Unrepaired++
				l.logger.Warn("material repair failed", "node", r.Node, "slot", slot, "error", err)
				continue
			}
			report.Repaired++
		}
	}
	l.logger.Debug("material repair done", "shader", shader, "repaired", report.Repaired)
	return report
}

// DumpMaterials logs every renderer slot under root at debug level.
func (l *Loader) DumpMaterials(root engine.NodeID) {
	renderers := l.graph.Renderers(root)
	l.logger.Debug("material dump", "renderers", len(renderers))
	for _, r := range renderers {
		for i, m := range r.Materials {
			name, shader := "NULL", "NULL"
			if m != nil {
				name = m.Name
				if m.Shader != "" {
					shader = m.Shader
				}
			}
			l.logger.Debug("material", "renderer", l.graph.Name(r.Node), "slot", i, "material", name, "shader", shader)
		}
	}
}
