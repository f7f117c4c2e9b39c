package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/BTreeMap/CitaBot/internal/models"
)

const (
	propPhone  = "phone"
	propBranch = "branch"
)

// GoogleCalendar implements Calendar on one Google calendar. Patient phone
// and branch are kept as private extended properties of each event.
type GoogleCalendar struct {
	svc        *gcal.Service
	calendarID string
	opts       Opts
}

var _ Calendar = (*GoogleCalendar)(nil)

// NewGoogleCalendar creates the client. clientOpts carry credentials, for
// example option.WithCredentialsFile.
func NewGoogleCalendar(ctx context.Context, calendarID string, clientOpts []option.ClientOption, opts ...Option) (*GoogleCalendar, error) {
	if calendarID == "" {
		return nil, errors.New("google calendar id is required")
	}
	svc, err := gcal.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return &GoogleCalendar{svc: svc, calendarID: calendarID, opts: buildOpts(opts)}, nil
}

func (g *GoogleCalendar) busy(ctx context.Context, from, to time.Time) ([]interval, error) {
	req := &gcal.FreeBusyRequest{
		TimeMin:  from.Format(time.RFC3339),
		TimeMax:  to.Format(time.RFC3339),
		TimeZone: g.opts.Location.String(),
		Items:    []*gcal.FreeBusyRequestItem{{Id: g.calendarID}},
	}
	resp, err := g.svc.Freebusy.Query(req).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to query free/busy: %w", err)
	}
	cal, ok := resp.Calendars[g.calendarID]
	if !ok {
		return nil, nil
	}
	if len(cal.Errors) > 0 {
		return nil, fmt.Errorf("free/busy error for calendar: %s", cal.Errors[0].Reason)
	}
	out := make([]interval, 0, len(cal.Busy))
	for _, p := range cal.Busy {
		s, err1 := time.Parse(time.RFC3339, p.Start)
		e, err2 := time.Parse(time.RFC3339, p.End)
		if err1 != nil || err2 != nil {
			slog.Warn("calendar GoogleCalendar skipping unparsable busy period", "start", p.Start, "end", p.End)
			continue
		}
		out = append(out, interval{start: s, end: e})
	}
	return out, nil
}

// CheckAvailability queries free/busy for the slot and, when taken, for the
// search horizon to propose the next free slot.
func (g *GoogleCalendar) CheckAvailability(ctx context.Context, start, end time.Time, branchID string) (Availability, error) {
	busy, err := g.busy(ctx, start, start.Add(g.opts.Horizon))
	if err != nil {
		return Availability{}, err
	}
	if free(busy, start, end) {
		return Availability{Available: true}, nil
	}
	return Availability{Suggestion: nextFreeSlot(busy, start, end.Sub(start), g.opts.Branches, branchID, g.opts.Horizon)}, nil
}

// CreateEvent inserts the appointment.
func (g *GoogleCalendar) CreateEvent(ctx context.Context, ev Event) (models.Appointment, error) {
	tz := g.opts.Location.String()
	event := &gcal.Event{
		Summary:     ev.Title,
		Description: ev.Description,
		Start:       &gcal.EventDateTime{DateTime: ev.Start.In(g.opts.Location).Format(time.RFC3339), TimeZone: tz},
		End:         &gcal.EventDateTime{DateTime: ev.End.In(g.opts.Location).Format(time.RFC3339), TimeZone: tz},
		ExtendedProperties: &gcal.EventExtendedProperties{
			Private: map[string]string{propPhone: ev.Phone, propBranch: ev.BranchID},
		},
	}
	created, err := g.svc.Events.Insert(g.calendarID, event).Context(ctx).Do()
	if err != nil {
		return models.Appointment{}, fmt.Errorf("failed to insert event: %w", err)
	}
	slog.Info("calendar GoogleCalendar event created", "event_id", created.Id, "start", ev.Start)
	return toAppointment(created.Id, ev), nil
}

// ListEvents returns the phone's upcoming events.
func (g *GoogleCalendar) ListEvents(ctx context.Context, phone string, from time.Time) ([]models.Appointment, error) {
	resp, err := g.svc.Events.List(g.calendarID).
		PrivateExtendedProperty(propPhone + "=" + phone).
		TimeMin(from.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(20).
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	out := make([]models.Appointment, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.Start == nil || item.End == nil {
			continue
		}
		start, err1 := time.Parse(time.RFC3339, item.Start.DateTime)
		end, err2 := time.Parse(time.RFC3339, item.End.DateTime)
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, models.Appointment{
			EventID:     item.Id,
			Title:       item.Summary,
			Start:       start.In(g.opts.Location),
			End:         end.In(g.opts.Location),
			Description: item.Description,
		})
	}
	return out, nil
}

// DeleteEvent removes an event. Missing or already deleted events map to ErrEventNotFound.
func (g *GoogleCalendar) DeleteEvent(ctx context.Context, eventID string) error {
	err := g.svc.Events.Delete(g.calendarID, eventID).Context(ctx).Do()
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && (apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone) {
		return ErrEventNotFound
	}
	return fmt.Errorf("failed to delete event: %w", err)
}
