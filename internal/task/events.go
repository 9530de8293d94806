package task

import (
	"taskcore/internal/eventbus"
	"taskcore/internal/objects"
	"taskcore/internal/priority"
)

const (
	EventCreated   eventbus.Kind = "task.created"
	EventStarted   eventbus.Kind = "task.started"
	EventDeleted   eventbus.Kind = "task.deleted"
	EventExited    eventbus.Kind = "task.exited"
	EventReaped    eventbus.Kind = "task.reaped"
	EventPriority  eventbus.Kind = "task.priority"
	EventSuspended eventbus.Kind = "task.suspended"
	EventResumed   eventbus.Kind = "task.resumed"
	EventRestarted eventbus.Kind = "task.restarted"
)

// Event is the payload of every task lifecycle event.
type Event struct {
	ID       objects.ID   `json:"id"`
	Name     string       `json:"name,omitempty"`
	Priority priority.API `json:"priority,omitempty"`
	Previous priority.API `json:"previous,omitempty"`
}

func (m *Manager) publish(kind eventbus.Kind, ev Event) {
	m.bus.Publish(eventbus.Event{Kind: kind, Time: m.now(), Data: ev})
}

func (m *Manager) publishReaped(ids []objects.ID) {
	for _, id := range ids {
		m.publish(EventReaped, Event{ID: id})
	}
}
