package rigctl

import (
	"cmp"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// Model is one row of `rigctld -l`.
type Model struct {
	ID           int    `json:"id"`
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	Status       string `json:"status"`
}

// ModelGroup holds the models of one manufacturer.
type ModelGroup struct {
	Name   string  `json:"name"`
	Models []Model `json:"models"`
}

var modelLineRe = regexp.MustCompile(`^\s*(\d+)\s+(\S+)\s+(.+?)\s+\d{8}\.\d+\s+(Alpha|Beta|Stable|Untested)\s+`)

// ParseModelList parses the table printed by `rigctld -l`.
func ParseModelList(output string) []Model {
	var models []Model
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" || strings.Contains(line, "Rig #") || strings.Contains(line, "---") {
			continue
		}
		// the trailing \s+ in the pattern expects a column after status
		m := modelLineRe.FindStringSubmatch(line + " ")
		if m == nil {
			continue
		}
		id, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		models = append(models, Model{
			ID:           id,
			Manufacturer: strings.TrimSpace(m[2]),
			Model:        strings.TrimSpace(m[3]),
			Status:       m[4],
		})
	}

	return models
}

// GroupModels groups models by manufacturer, both levels sorted by name.
func GroupModels(models []Model) []ModelGroup {
	byName := make(map[string]*ModelGroup)
	for _, m := range models {
		g, ok := byName[m.Manufacturer]
		if !ok {
			g = &ModelGroup{Name: m.Manufacturer}
			byName[m.Manufacturer] = g
		}
		g.Models = append(g.Models, m)
	}

	groups := make([]ModelGroup, 0, len(byName))
	for _, g := range byName {
		slices.SortFunc(g.Models, func(a, b Model) int { return cmp.Compare(a.Model, b.Model) })
		groups = append(groups, *g)
	}
	slices.SortFunc(groups, func(a, b ModelGroup) int { return cmp.Compare(a.Name, b.Name) })

	return groups
}
