// Package imagechain selects the image shown for a medicine, falling back one
// stage at a time when a source fails to load.
package imagechain

import (
	"fmt"

	"github.com/vbonduro/prescriptly/internal/domain"
)

type Stage int

const (
	StageSpecific Stage = iota
	StageCategory
	StageDefault
	StageRemote
)

func (s Stage) String() string {
	switch s {
	case StageSpecific:
		return "specific"
	case StageCategory:
		return "category"
	case StageDefault:
		return "default"
	case StageRemote:
		return "remote"
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

const DefaultPath = "/images/medicine-types/default.png"

var remoteBackups = map[domain.Form]string{
	domain.FormTablet:    "https://images.unsplash.com/photo-1584308666744-24d5c474f2ae?auto=format&fit=crop&q=80&w=600",
	domain.FormCapsule:   "https://images.unsplash.com/photo-1471864190281-a93a3070b6de?auto=format&fit=crop&q=80&w=600",
	domain.FormSyrup:     "https://images.unsplash.com/photo-1631549916768-4119b2e5f926?auto=format&fit=crop&q=80&w=600",
	domain.FormCream:     "https://images.unsplash.com/photo-1620916566398-39f1143ab7be?auto=format&fit=crop&q=80&w=600",
	domain.FormInjection: "data:image/svg+xml;base64,PHN2ZyB4bWxucz0iaHR0cDovL3d3dy53My5vcmcvMjAwMC9zdmciIHZpZXdCb3g9IjAgMCAyMDAgMjAwIj48cmVjdCB3aWR0aD0iMjAwIiBoZWlnaHQ9IjIwMCIgZmlsbD0iI2YwZmRmYSIvPjxyZWN0IHg9IjgwIiB5PSI2MCIgd2lkdGg9IjQwIiBoZWlnaHQ9IjgwIiByeD0iNSIgZmlsbD0iI2ZmZmZmZiIgc3Ryb2tlPSIjMGQ5NDg4IiBzdHJva2Utd2lkdGg9IjQiLz48cmVjdCB4PSI3MCIgeT0iNTAiIHdpZHRoPSI2MCIgaGVpZ2h0PSIxMCIgcng9IjIiIGZpbGw9IiMwZDk0ODgiLz48cGF0aCBkPSJNOTAgODAgTDExMCA4MCIgc3Ryb2tlPSIjMTRiOGE2IiBzdHJva2Utd2lkdGg9IjIiLz48cGF0aCBkPSJNOTAgMTAwIEwxMTAgMTAwIiBzdHJva2U9IiMxNGI4YTYiIHN0cm9rZS13aWR0aD0iMiIvPjxwYXRoIGQ9Ik05MCAxMjAgTDExMCAxMjAiIHN0cm9rZT0iIzE0YjhhNiIgc3Ryb2tlLXdpZHRoPSIyIi8+PC9zdmc+",
	domain.FormDrops:     "data:image/svg+xml;base64,PHN2ZyB4bWxucz0iaHR0cDovL3d3dy53My5vcmcvMjAwMC9zdmciIHZpZXdCb3g9IjAgMCAyMDAgMjAwIj48cmVjdCB3aWR0aD0iMjAwIiBoZWlnaHQ9IjIwMCIgZmlsbD0iI2YwZmRmYSIvPjxwYXRoIGQ9Ik0xMDAgNDAgTDEwMCAxNjAiIHN0cm9rZT0iIzBkOTQ4OCIgc3Ryb2tlLXdpZHRoPSI0IiBzdHJva2UtZGFzaGFycmF5PSI1LDUiLz48cGF0aCBkPSJNMTAwIDYwIEMxMDAgNjAgNjAgMTEwIDYwIDE0MCBBNDAgNDAgMCAwIDAgMTQwIDE0MCBDMTQwIDExMCAxMDAgNjAgMTAwIDYwIFoiIGZpbGw9IiNmZmZmZmYiIHN0cm9rZT0iIzBkOTQ4OCIgc3Ryb2tlLXdpZHRoPSI0Ii8+PGNpcmNsZSBjeD0iMTAwIiBjeT0iMTQwIiByPSIxNSIgZmlsbD0iIzE0YjhhNiIvPjwvc3ZnPg==",
	domain.FormOther:     "https://images.unsplash.com/photo-1585435557343-3b092031a831?auto=format&fit=crop&q=80&w=600",
}

// CategoryPath is the bundled image for a dosage form.
func CategoryPath(f domain.Form) string {
	return fmt.Sprintf("/images/medicine-types/%s.png", domain.ParseForm(string(f)))
}

// RemoteBackup is the last-resort source for a dosage form.
func RemoteBackup(f domain.Form) string {
	if u, ok := remoteBackups[f]; ok {
		return u
	}
	return remoteBackups[domain.FormOther]
}

// Chain is the fallback state for one displayed medicine. The zero value is
// not usable; build one with New.
type Chain struct {
	stage    Stage
	specific string
	form     domain.Form
}

// New starts at the specific image when the medicine has one and at the
// category image otherwise.
func New(m domain.Medicine) *Chain {
	c := &Chain{specific: m.Image, form: domain.ParseForm(string(m.Form)), stage: StageSpecific}
	if m.Image == "" {
		c.stage = StageCategory
	}
	return c
}

func (c *Chain) Stage() Stage { return c.stage }

// Source is the image currently selected.
func (c *Chain) Source() string {
	return c.sourceAt(c.stage)
}

// Advance records a load failure of the current source and moves to the next
// stage. It reports false once the remote backup is reached; that stage is
// terminal.
func (c *Chain) Advance() bool {
	if c.stage >= StageRemote {
		return false
	}
	c.stage++
	return true
}

// Sources lists the current source followed by every remaining fallback, in
// the order they would be tried.
func (c *Chain) Sources() []string {
	out := make([]string, 0, int(StageRemote-c.stage)+1)
	for s := c.stage; s <= StageRemote; s++ {
		out = append(out, c.sourceAt(s))
	}
	return out
}

func (c *Chain) sourceAt(s Stage) string {
	switch s {
	case StageSpecific:
		return c.specific
	case StageCategory:
		return CategoryPath(c.form)
	case StageDefault:
		return DefaultPath
	default:
		return RemoteBackup(c.form)
	}
}
