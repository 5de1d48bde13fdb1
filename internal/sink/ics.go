package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-ical"

	"agentsched.org/internal/event"
)

const (
	productID  = "-//agentsched//scheduler//EN"
	propUserID = "X-AGENTSCHED-USER"
)

// ICSCalendar writes one .ics file per event record into a directory.
type ICSCalendar struct {
	dir string

	mu    sync.Mutex
	index map[string]struct{} // user|start
}

// NewICSCalendar opens dir, creating it if needed, and indexes existing files.
func NewICSCalendar(dir string) (*ICSCalendar, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("ics calendar: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ics calendar: %w", err)
	}
	c := &ICSCalendar{dir: dir, index: make(map[string]struct{})}
	paths, err := filepath.Glob(filepath.Join(dir, "*.ics"))
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		rec, err := ReadICS(p)
		if err != nil {
			return nil, fmt.Errorf("ics calendar: %s: %w", filepath.Base(p), err)
		}
		c.index[indexKey(rec.UserID, rec.Start)] = struct{}{}
	}
	return c, nil
}

func indexKey(userID string, start time.Time) string {
	return userID + "|" + start.UTC().Format(time.RFC3339)
}

func (c *ICSCalendar) Create(_ context.Context, rec event.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := indexKey(rec.UserID, rec.Start)
	if _, ok := c.index[key]; ok {
		return fmt.Errorf("%w: %s", event.ErrConflict, rec.Start.Format(time.RFC3339))
	}

	path := filepath.Join(c.dir, rec.ID+".ics")
	tmp, err := os.CreateTemp(c.dir, ".tmp-*.ics")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := ical.NewEncoder(tmp).Encode(toCalendar(rec)); err != nil {
		tmp.Close()
		return fmt.Errorf("encode ics: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	c.index[key] = struct{}{}
	return nil
}

func (c *ICSCalendar) HasEventAt(_ context.Context, userID string, start time.Time) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.index[indexKey(userID, start)]
	return ok, nil
}

// Path returns where the record with id is stored.
func (c *ICSCalendar) Path(id string) string {
	return filepath.Join(c.dir, id+".ics")
}

func toCalendar(rec event.Record) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)

	ev := ical.NewEvent()
	ev.Props.SetText(ical.PropUID, rec.ID)
	ev.Props.SetDateTime(ical.PropDateTimeStamp, rec.CreatedAt.UTC())
	ev.Props.SetDateTime(ical.PropDateTimeStart, rec.Start.UTC())
	ev.Props.SetDateTime(ical.PropDateTimeEnd, rec.End.UTC())
	ev.Props.SetText(ical.PropSummary, rec.Title)
	if rec.Description != "" {
		ev.Props.SetText(ical.PropDescription, rec.Description)
	}
	ev.Props.SetText(ical.PropStatus, "CONFIRMED")
	ev.Props.SetText(propUserID, rec.UserID)

	if rec.HasReminder {
		alarm := ical.NewComponent(ical.CompAlarm)
		alarm.Props.SetText(ical.PropAction, "DISPLAY")
		alarm.Props.SetText(ical.PropDescription, "Reminder: "+rec.Title)
		trigger := ical.NewProp(ical.PropTrigger)
		trigger.SetDuration(-rec.Reminder)
		alarm.Props.Set(trigger)
		ev.Children = append(ev.Children, alarm)
	}
	cal.Children = append(cal.Children, ev.Component)
	return cal
}

// ReadICS decodes a file written by ICSCalendar back into a record. Status and
// CreatedAt are not round-tripped beyond what the file carries.
func ReadICS(path string) (event.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return event.Record{}, err
	}
	defer f.Close()
	cal, err := ical.NewDecoder(f).Decode()
	if err != nil {
		return event.Record{}, err
	}
	events := cal.Events()
	if len(events) != 1 {
		return event.Record{}, fmt.Errorf("expected one event, found %d", len(events))
	}
	ev := events[0]

	var rec event.Record
	if rec.ID, err = ev.Props.Text(ical.PropUID); err != nil {
		return event.Record{}, err
	}
	if rec.Title, err = ev.Props.Text(ical.PropSummary); err != nil {
		return event.Record{}, err
	}
	rec.Description, _ = ev.Props.Text(ical.PropDescription)
	rec.UserID, _ = ev.Props.Text(propUserID)
	if rec.Start, err = ev.DateTimeStart(time.UTC); err != nil {
		return event.Record{}, err
	}
	if rec.End, err = ev.DateTimeEnd(time.UTC); err != nil {
		return event.Record{}, err
	}
	rec.Duration = rec.End.Sub(rec.Start)
	if stamp := ev.Props.Get(ical.PropDateTimeStamp); stamp != nil {
		rec.CreatedAt, _ = stamp.DateTime(time.UTC)
	}
	for _, child := range ev.Children {
		if child.Name != ical.CompAlarm {
			continue
		}
		if trig := child.Props.Get(ical.PropTrigger); trig != nil {
			if d, err := trig.Duration(); err == nil {
				rec.Reminder = -d
				rec.HasReminder = true
			}
		}
	}
	rec.Status = event.StatusCreated
	return rec, nil
}
