// Calibration and carriage status reports
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package project

import (
	"math"
	"strings"

	pongo2 "github.com/flosch/pongo2/v5"
)

const hysteresisReportTpl = `Hysteresis:{% for a in axes %} {{ a.name }}{{ a.mm|floatformat:4 }}mm({{ a.steps }}){% endfor %}
{% if enabled %}Applied shift:{% for a in axes %} {{ a.name }}{{ a.shift|floatformat:4 }}{% endfor %}{% else %}Hysteresis compensation off{% endif %}`

const zwobbleReportTpl = `Z-wobble: {{ mode }}{% if mode == "sinusoidal" %} A{{ amplitude|floatformat:4 }} W{{ period|floatformat:4 }} P{{ phase|floatformat:2 }}{% elif mode == "table" %} S{{ scaling|floatformat:4 }}{% for s in samples %}
 Z{{ s.rod|floatformat:3 }} {% if s.scaled %}L{% else %}H{% endif %}{{ s.actual|floatformat:3 }}{% endfor %}{% endif %}
{% if consistent %}Z-wobble compensation active{% else %}Z-wobble compensation off{% endif %}`

const dualXReportTpl = `Dual X carriage: {{ mode }} T{{ active }}{% if parked %} parked{% endif %}{% if duplicating %} duplicating{% endif %}
 X offset {{ x_offset|floatformat:3 }} temp offset {{ temp_offset }} inactive X {{ inactive_x|floatformat:3 }}
 X1 home {{ home0|floatformat:3 }} dir {{ dir0 }}, X2 home {{ home1|floatformat:3 }} dir {{ dir1 }}`

var reportTemplates = pongo2.NewSet("mechanics", pongo2.DefaultLoader)

var (
	hysteresisReport = pongo2.Must(reportTemplates.FromString(hysteresisReportTpl))
	zwobbleReport    = pongo2.Must(reportTemplates.FromString(zwobbleReportTpl))
	dualXReport      = pongo2.Must(reportTemplates.FromString(dualXReportTpl))
)

func render(tpl *pongo2.Template, ctx pongo2.Context) (string, error) {
	out, err := tpl.Execute(ctx)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (self *CartesianMechanics) Report_hysteresis() (string, error) {
	h := self.Hysteresis
	axes := make([]pongo2.Context, 0, XYZE)
	for axis := 0; axis < XYZE; axis++ {
		axes = append(axes, pongo2.Context{
			"name":  axisCodes[axis],
			"mm":    h.Mm[axis],
			"steps": h.Steps[axis],
			"shift": h.Axis_shift[axis],
		})
	}
	return render(hysteresisReport, pongo2.Context{
		"axes":    axes,
		"enabled": h.Hysteresis_bits != 0,
	})
}

func (self *CartesianMechanics) Report_zwobble() (string, error) {
	w := self.Wobble
	ctx := pongo2.Context{
		"mode":       w.Mode(),
		"consistent": w.Are_parameters_consistent(),
		"scaling":    w.Scaling_factor,
	}
	if s, ok := w.Model.(*WobbleSinusoidal); ok {
		ctx["amplitude"] = s.Amplitude
		ctx["period"] = w.periodOf(s)
		ctx["phase"] = s.Phase * 180 / math.Pi
	}
	samples := []pongo2.Context{}
	for _, s := range w.Samples() {
		samples = append(samples, pongo2.Context{"rod": s.Rod, "actual": s.Actual, "scaled": s.Scaled})
	}
	ctx["samples"] = samples
	return render(zwobbleReport, ctx)
}

func (self *CartesianMechanics) Report_dual_x() (string, error) {
	dual := self.Dual
	if dual == nil {
		return "Dual X carriage: not configured", nil
	}
	return render(dualXReport, pongo2.Context{
		"mode":        dual.Mode.String(),
		"active":      self.Active_extruder,
		"parked":      dual.Active_hotend_parked,
		"duplicating": dual.Hotend_duplication_enabled,
		"x_offset":    dual.Duplicate_extruder_x_offset,
		"temp_offset": dual.Duplicate_extruder_temp_offset,
		"inactive_x":  dual.Inactive_hotend_x_pos,
		"home0":       dual.X_home_pos(0),
		"home1":       dual.X_home_pos(1),
		"dir0":        dual.X_home_dir(0),
		"dir1":        dual.X_home_dir(1),
	})
}
