package tui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"rtcdoctor/internal/storage"
)

// settingDef describes one row of the settings tab. A nil validate marks
// the row read-only.
type settingDef struct {
	key      string
	label    string
	hint     string
	fallback string
	validate func(string) error
}

func (d settingDef) readOnly() bool { return d.validate == nil }

var settingDefs = []settingDef{
	{storage.SettingRetentionDays, "Retention", "Days of run history to keep, 0 keeps everything", "30", nonNegativeInt},
	{storage.SettingMaxPortAttempts, "Port attempts", "Relay connectivity attempts per run", "from config", positiveInt},
	{storage.SettingProbeTimeout, "Probe timeout", "Per-probe deadline such as 30s, 0 disables it", "from config", duration},
	{storage.SettingLastRunID, "Last run", "Most recently stored run", "none", nil},
}

func nonNegativeInt(v string) error {
	if n, err := strconv.Atoi(v); err != nil || n < 0 {
		return fmt.Errorf("%q is not a whole number of days", v)
	}
	return nil
}

func positiveInt(v string) error {
	if n, err := strconv.Atoi(v); err != nil || n < 1 {
		return fmt.Errorf("%q must be at least 1", v)
	}
	return nil
}

func duration(v string) error {
	if d, err := time.ParseDuration(v); err != nil || d < 0 {
		return fmt.Errorf("%q is not a duration", v)
	}
	return nil
}

type settingsModel struct {
	settings      map[string]string
	cursor        int
	editing       bool
	input         textinput.Model
	width, height int
}

func newSettingsModel() settingsModel {
	ti := textinput.New()
	ti.CharLimit = 64
	ti.Prompt = "> "
	ti.PromptStyle = fg(colorAccent)
	ti.TextStyle = fg(colorText)
	return settingsModel{settings: map[string]string{}, input: ti}
}

func (sm *settingsModel) setSize(w, h int) {
	sm.width, sm.height = w, h
	sm.input.Width = w / 2
}

func (sm *settingsModel) setSettings(s map[string]string) {
	if s == nil {
		s = map[string]string{}
	}
	sm.settings = s
}

func (sm *settingsModel) currentDef() settingDef {
	return settingDefs[min(max(sm.cursor, 0), len(settingDefs)-1)]
}

func (sm *settingsModel) Update(msg tea.Msg, root *Model) tea.Cmd {
	if sm.editing {
		return sm.updateEditing(msg, root)
	}
	km, ok := msg.(tea.KeyMsg)
	if !ok {
		return nil
	}
	switch {
	case km.String() == "up" || km.String() == "k":
		sm.cursor = max(sm.cursor-1, 0)
	case km.String() == "down" || km.String() == "j":
		sm.cursor = min(sm.cursor+1, len(settingDefs)-1)
	case key.Matches(km, keys.Enter):
		def := sm.currentDef()
		if def.readOnly() {
			return nil
		}
		sm.editing = true
		sm.input.SetValue(sm.settings[def.key])
		sm.input.Focus()
		return textinput.Blink
	}
	return nil
}

func (sm *settingsModel) updateEditing(msg tea.Msg, root *Model) tea.Cmd {
	if km, ok := msg.(tea.KeyMsg); ok {
		switch {
		case key.Matches(km, keys.Back):
			sm.stopEditing()
			return nil
		case key.Matches(km, keys.Enter):
			sm.stopEditing()
			def := sm.currentDef()
			val := strings.TrimSpace(sm.input.Value())
			if err := def.validate(val); err != nil {
				root.setNotification(err.Error(), true)
				return nil
			}
			sm.settings[def.key] = val
			return saveSetting(root.store, def.key, val)
		}
	}
	var cmd tea.Cmd
	sm.input, cmd = sm.input.Update(msg)
	return cmd
}

func (sm *settingsModel) stopEditing() {
	sm.editing = false
	sm.input.Blur()
}

func (sm *settingsModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Settings") + "\n\n")

	for i, def := range settingDefs {
		val, ok := sm.settings[def.key]
		if !ok || val == "" {
			val = def.fallback
		}

		if i != sm.cursor {
			b.WriteString(cardValueStyle.Width(18).Render("  "+def.label) + dimStyle.Render(val) + "\n")
			continue
		}

		row := fg(colorAccent).Bold(true).Width(18).Render("> " + def.label)
		if sm.editing {
			b.WriteString(row + sm.input.View() + "\n")
			continue
		}
		b.WriteString(row + cardValueStyle.Render(val) + "\n")

		hint := def.hint
		if !def.readOnly() {
			hint += fmt.Sprintf("  (enter to edit, default: %s)", def.fallback)
		}
		b.WriteString(dimStyle.PaddingLeft(4).Render(hint) + "\n")
	}

	return forceHeight(b.String(), sm.width, sm.height)
}
