package domain

import (
	"fmt"
	"time"
)

// HourType is the season bucket an attendance record counts toward.
type HourType string

const (
	Build     HourType = "build"
	Learning  HourType = "learning"
	Demo      HourType = "demo"
	Offseason HourType = "offseason"
)

func ParseHourType(s string) (HourType, error) {
	switch HourType(s) {
	case Build, Learning, Demo, Offseason:
		return HourType(s), nil
	}
	return "", fmt.Errorf("unknown hour type: %s", s)
}

// kickoff is the first Saturday of the year, postponed a week when
// January 1st falls on Thursday, Friday or Saturday.
func kickoff(year int, loc *time.Location) time.Time {
	nyd := time.Date(year, time.January, 1, 0, 0, 0, 0, loc)
	daysToSat := (int(time.Saturday) - int(nyd.Weekday()) + 7) % 7
	if nyd.Weekday() >= time.Thursday {
		daysToSat += 7
	}
	return nyd.AddDate(0, 0, daysToSat)
}

// Allowed reports whether swiping in for this hour type makes sense at now.
//
// Build runs from kickoff through April; learning before kickoff or from
// September; offseason from May through November; demo is always open.
func (h HourType) Allowed(now time.Time) bool {
	today := now
	ko := kickoff(today.Year(), today.Location())

	switch h {
	case Build:
		return !today.Before(ko) && today.Month() <= time.April
	case Learning:
		return today.Before(ko) || today.Month() >= time.September
	case Demo:
		return true
	case Offseason:
		return today.Month() >= time.May && today.Month() <= time.November
	}
	return false
}

// InvalidWhen describes the window in which this hour type is rejected.
func (h HourType) InvalidWhen() string {
	switch h {
	case Build:
		return "after April"
	case Learning:
		return "before November"
	case Offseason:
		return "before May"
	}
	return "never"
}

// Record is one attendance entry: a sign-in, optionally closed by a
// sign-out on the same local calendar day.
//
// Invariant: InProgress == (SignOut == nil).
type Record struct {
	ID         string     `json:"id"`
	StudentID  string     `json:"student_id"`
	Kind       HourType   `json:"hour_type"`
	SignIn     time.Time  `json:"sign_in"`
	SignOut    *time.Time `json:"sign_out"`
	InProgress bool       `json:"in_progress"`
}

func (r Record) Pkey() string { return r.ID }

// PartialRecord carries the primary key plus the subset of fields to
// overwrite. Nil pointers mean "leave as is".
type PartialRecord struct {
	ID         string     `json:"id"`
	StudentID  *string    `json:"student_id"`
	Kind       *HourType  `json:"hour_type"`
	SignIn     *time.Time `json:"sign_in"`
	SignOut    *time.Time `json:"sign_out"`
	InProgress *bool      `json:"in_progress"`
}

func (p PartialRecord) Pkey() string { return p.ID }

// ApplyTo merges the set fields into row.
//
// SignOut cannot distinguish "absent" from "null" in JSON, so InProgress
// is authoritative: an explicit InProgress=true clears SignOut.
func (p PartialRecord) ApplyTo(row *Record) {
	if p.StudentID != nil {
		row.StudentID = *p.StudentID
	}
	if p.Kind != nil {
		row.Kind = *p.Kind
	}
	if p.SignIn != nil {
		row.SignIn = *p.SignIn
	}
	if p.InProgress != nil {
		row.InProgress = *p.InProgress
	}
	if p.SignOut != nil {
		row.SignOut = p.SignOut
		row.InProgress = false
	} else if p.InProgress != nil && *p.InProgress {
		row.SignOut = nil
	}
}

// Student is a roster member. Hashed is the salted student-id digest the
// swipe kiosk sends; records reference students by it.
type Student struct {
	ID     string `json:"id"`
	Hashed string `json:"hashed"`
	First  string `json:"first_name"`
	Last   string `json:"last_name"`
}

func (s Student) Pkey() string { return s.Hashed }

type PartialStudent struct {
	Hashed string  `json:"hashed"`
	First  *string `json:"first_name"`
	Last   *string `json:"last_name"`
}

func (p PartialStudent) Pkey() string { return p.Hashed }

func (p PartialStudent) ApplyTo(row *Student) {
	if p.First != nil {
		row.First = *p.First
	}
	if p.Last != nil {
		row.Last = *p.Last
	}
}

// Date is a local calendar day, ISO "2006-01-02". String ordering is
// chronological ordering.
type Date string

func DateOf(t time.Time, loc *time.Location) Date {
	return Date(t.In(loc).Format("2006-01-02"))
}
