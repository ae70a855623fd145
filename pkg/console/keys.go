package console

import "github.com/charmbracelet/bubbles/key"

type KeyMap struct {
	Start key.Binding
	Stop  key.Binding
	Send  key.Binding
	Quit  key.Binding
}

var Keys = KeyMap{
	Start: key.NewBinding(
		key.WithKeys("ctrl+s"),
		key.WithHelp("C-s", "start call"),
	),
	Stop: key.NewBinding(
		key.WithKeys("ctrl+x"),
		key.WithHelp("C-x", "stop call"),
	),
	Send: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "send text"),
	),
	Quit: key.NewBinding(
		key.WithKeys("ctrl+c"),
		key.WithHelp("C-c", "quit"),
	),
}

func (k KeyMap) help() []key.Binding {
	return []key.Binding{k.Start, k.Stop, k.Send, k.Quit}
}
