// Package input turns SDL2 events into viewer actions.
package input

import (
	"github.com/veandco/go-sdl2/sdl"
)

// Action is a viewer command triggered by input.
type Action int

const (
	ActionNone Action = iota
	ActionQuit
	ActionResize
	ActionNext
	ActionPrev
	ActionReload
	ActionReloadAll
	ActionEvict
	ActionStats
	ActionOpen
	ActionScreenshot
	ActionVerbose
	ActionFullscreen
	// ActionDrop carries a file dropped onto the window in Event.Path.
	ActionDrop
)

// Event represents a processed input event.
type Event struct {
	Action Action
	Width  int
	Height int
	Path   string
}

// Input handles all input processing.
type Input struct {
	events []Event
}

// New creates a new input handler.
func New() *Input {
	return &Input{
		events: make([]Event, 0, 16),
	}
}

// ActionForKey maps a key press to an action.
func ActionForKey(key sdl.Scancode) Action {
	switch key {
	case sdl.SCANCODE_ESCAPE, sdl.SCANCODE_Q:
		return ActionQuit
	case sdl.SCANCODE_RIGHT, sdl.SCANCODE_SPACE, sdl.SCANCODE_N:
		return ActionNext
	case sdl.SCANCODE_LEFT, sdl.SCANCODE_BACKSPACE, sdl.SCANCODE_P:
		return ActionPrev
	case sdl.SCANCODE_R:
		return ActionReload
	case sdl.SCANCODE_F5:
		return ActionReloadAll
	case sdl.SCANCODE_E:
		return ActionEvict
	case sdl.SCANCODE_S:
		return ActionStats
	case sdl.SCANCODE_O:
		return ActionOpen
	case sdl.SCANCODE_F12:
		return ActionScreenshot
	case sdl.SCANCODE_D:
		return ActionVerbose
	case sdl.SCANCODE_F11:
		return ActionFullscreen
	}
	return ActionNone
}

// Update polls SDL events and converts them to actions.
// Returns true if the viewer should quit.
func (i *Input) Update() bool {
	i.events = i.events[:0]

	quit := false
	for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
		switch e := event.(type) {
		case *sdl.QuitEvent:
			i.events = append(i.events, Event{Action: ActionQuit})
			quit = true

		case *sdl.WindowEvent:
			// SIZE_CHANGED also covers fullscreen switches.
			if e.Event == sdl.WINDOWEVENT_SIZE_CHANGED {
				i.events = append(i.events, Event{
					Action: ActionResize,
					Width:  int(e.Data1),
					Height: int(e.Data2),
				})
			}

		case *sdl.DropEvent:
			if e.Type == sdl.DROPFILE && e.File != "" {
				i.events = append(i.events, Event{Action: ActionDrop, Path: e.File})
			}

		case *sdl.KeyboardEvent:
			if e.Type != sdl.KEYDOWN || e.Repeat != 0 {
				continue
			}
			a := ActionForKey(e.Keysym.Scancode)
			if a == ActionNone {
				continue
			}
			i.events = append(i.events, Event{Action: a})
			if a == ActionQuit {
				quit = true
			}
		}
	}

	return quit
}

// Events returns the events from the last Update.
func (i *Input) Events() []Event {
	return i.events
}
