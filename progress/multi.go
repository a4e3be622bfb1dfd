package progress

import (
	"context"
	"errors"
)

type multi []Notifier

// Multi delivers each event to every notifier in order. A failing notifier
// does not stop delivery to the rest; all errors are joined.
func Multi(notifiers ...Notifier) Notifier {
	out := make(multi, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}

func (m multi) Notify(ctx context.Context, documentID string, event Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, documentID, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
