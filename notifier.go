package main

// Notifier is the fire-and-forget notification sink spec.md §1 treats as
// an external collaborator: formatted text, optionally a file blob. Both
// the Telegram and Firebase-push adapters implement it; nil is a valid,
// silently-no-op Notifier the way the teacher's *NotificationService is
// nil-safe.
type Notifier interface {
	Notify(text string)
	NotifyFile(blob []byte, filename, caption string)
}

// multiNotifier fans a single Notify call out to every configured sink —
// Telegram as primary, Firebase push as an optional secondary, per
// SPEC_FULL.md §6.
type multiNotifier struct {
	sinks []Notifier
}

func NewMultiNotifier(sinks ...Notifier) Notifier {
	live := make([]Notifier, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			live = append(live, s)
		}
	}
	return &multiNotifier{sinks: live}
}

func (m *multiNotifier) Notify(text string) {
	for _, s := range m.sinks {
		s.Notify(text)
	}
}

func (m *multiNotifier) NotifyFile(blob []byte, filename, caption string) {
	for _, s := range m.sinks {
		s.NotifyFile(blob, filename, caption)
	}
}
